package controllers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"shaka-fleet/backend/app/apperr"
	"shaka-fleet/backend/app/dto"
	"shaka-fleet/backend/app/models"
	"shaka-fleet/backend/app/services"
)

const maxHeartbeatBytes = 4 << 20

type HeartbeatController struct{ Heartbeats *services.HeartbeatService }

func NewHeartbeatController(hs *services.HeartbeatService) *HeartbeatController {
	return &HeartbeatController{Heartbeats: hs}
}

// Post ingests a heartbeat and answers with the commands waiting for the device.
func (c *HeartbeatController) Post(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxHeartbeatBytes))
	if err != nil {
		writeError(w, apperr.Validation("body", "unreadable"))
		return
	}
	var hb dto.Heartbeat
	if err := json.Unmarshal(body, &hb); err != nil {
		writeError(w, apperr.Validation("body", "malformed JSON"))
		return
	}
	src := dto.SourceInfo{
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RemoteIP:     remoteIP(r),
		ReceivedAt:   time.Now(),
	}
	ack, err := c.Heartbeats.Ingest(hb.Identity(), hb, src)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// SyncProducts is the polling path for agents without a live channel.
func (c *HeartbeatController) SyncProducts(w http.ResponseWriter, r *http.Request) {
	cmd, ok, err := c.Heartbeats.DrainKind(r.PathValue("id"), models.KindSyncProducts)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := dto.SyncProductsResponse{Pending: ok}
	if ok {
		var body struct {
			Products json.RawMessage `json:"products"`
		}
		if json.Unmarshal(cmd.Payload, &body) == nil && len(body.Products) > 0 {
			resp.Products = body.Products
		} else {
			resp.Products = cmd.Payload
		}
		queued := cmd.QueuedAt
		resp.QueuedAt = &queued
	}
	writeJSON(w, http.StatusOK, resp)
}
