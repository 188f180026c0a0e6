package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"shaka-fleet/backend/app/dto"
	"shaka-fleet/backend/app/repo"
	"shaka-fleet/backend/app/services"
	"shaka-fleet/backend/global"
)

const maxWebhookBytes = 1 << 20

type WebhookController struct {
	Router        *services.WebhookRouter
	Events        *repo.WebhookEventRepository
	SigningSecret string
	Tolerance     time.Duration
	// Timeout bounds the detached routing work.
	Timeout time.Duration
	// routed is signalled after each detached route finishes; tests hook it.
	routed func(services.RouteOutcome)
}

func NewWebhookController(router *services.WebhookRouter, events *repo.WebhookEventRepository, secret string, tolerance, timeout time.Duration) *WebhookController {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookController{Router: router, Events: events, SigningSecret: secret, Tolerance: tolerance, Timeout: timeout}
}

// Stripe acknowledges every delivery at once so the provider never retries,
// then routes the event in the background.
func (c *WebhookController) Stripe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	ack := dto.WebhookReceived{Received: true}
	if err != nil {
		global.Logger.Warn().Err(err).Msg("webhook body unreadable")
		writeJSON(w, http.StatusOK, ack)
		return
	}
	if c.SigningSecret != "" {
		if err := services.VerifyStripeSignature(body, r.Header.Get("Stripe-Signature"), c.SigningSecret, c.Tolerance, time.Now()); err != nil {
			global.Logger.Warn().Err(err).Msg("webhook signature rejected")
			writeJSON(w, http.StatusOK, ack)
			return
		}
	}
	if !json.Valid(body) {
		global.Logger.Warn().Msg("webhook body is not JSON")
		writeJSON(w, http.StatusOK, ack)
		return
	}
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(body, &head)
	writeJSON(w, http.StatusOK, ack)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
		defer cancel()
		out := c.Router.Route(ctx, head.Type, body)
		if c.routed != nil {
			c.routed(out)
		}
	}()
}

// Recent lists the latest routed events for the console.
func (c *WebhookController) Recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	evs, err := c.Events.Latest(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}
