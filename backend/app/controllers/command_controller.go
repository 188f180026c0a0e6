package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"shaka-fleet/backend/app/apperr"
	"shaka-fleet/backend/app/dto"
	"shaka-fleet/backend/app/models"
	"shaka-fleet/backend/app/repo"
	"shaka-fleet/backend/app/services"
)

type CommandController struct {
	Dispatcher *services.Dispatcher
	Repo       *repo.DeliveryRepository
}

func NewCommandController(d *services.Dispatcher, r *repo.DeliveryRepository) *CommandController {
	return &CommandController{Dispatcher: d, Repo: r}
}

// Post delivers a command now and reports which transport carried it.
func (c *CommandController) Post(w http.ResponseWriter, r *http.Request) {
	var req dto.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("body", "malformed JSON"))
		return
	}
	res, err := c.Dispatcher.Deliver(r.Context(), req.DeviceID, models.CommandKind(req.Kind), req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.CommandResponse{
		DeviceID:    res.DeviceID,
		Kind:        string(res.Kind),
		Transport:   res.Transport,
		DeliveredAt: res.DeliveredAt,
		Error:       res.Error,
	})
}

// Deliveries lists the delivery log.
// GET /admin/deliveries?deviceid=...&limit=...
func (c *CommandController) Deliveries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := c.Repo.ListByDevice(r.URL.Query().Get("deviceid"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]dto.DeliveryRecordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, dto.DeliveryRecordResponse{
			ID: rec.ID, DeviceID: rec.DeviceID, Kind: rec.Kind, Transport: rec.Transport,
			Error: rec.LastError, CreatedAt: rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
