package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"shaka-fleet/backend/app/devicehttp"
	"shaka-fleet/backend/app/dto"
	"shaka-fleet/backend/app/models"
	"shaka-fleet/backend/app/registry"
	"shaka-fleet/backend/config"
	"shaka-fleet/backend/global"
)

const ProviderStripe = "stripe"

// Forwarder posts a JSON body to a device.
type Forwarder interface {
	PostJSON(ctx context.Context, url string, body []byte) error
}

type WebhookRecorder interface {
	Create(e *models.WebhookEvent) error
}

// RouteOutcome describes what happened to one provider event.
type RouteOutcome struct {
	Forwarded      bool
	DeviceID       string
	CorrelationKey string
	Fallback       bool
	Reason         string
}

type WebhookRouter struct {
	reg      *registry.Registry
	fwd      Forwarder
	recorder WebhookRecorder
	allowed  map[string]struct{}
	path     string
	vendPort int
}

func NewWebhookRouter(reg *registry.Registry, fwd Forwarder, recorder WebhookRecorder, cfg config.Webhook, vendPort int) *WebhookRouter {
	events := cfg.AllowedEvents
	if len(events) == 0 {
		events = config.DefaultAllowedEvents
	}
	allowed := make(map[string]struct{}, len(events))
	for _, e := range events {
		allowed[e] = struct{}{}
	}
	path := cfg.Path
	if path == "" {
		path = "/stripe/webhook"
	}
	if vendPort <= 0 {
		vendPort = 5001
	}
	return &WebhookRouter{reg: reg, fwd: fwd, recorder: recorder, allowed: allowed, path: path, vendPort: vendPort}
}

// Route correlates a provider event to a device and forwards it. It never
// fails: undeliverable events are dropped with a reason.
func (w *WebhookRouter) Route(ctx context.Context, eventType string, raw json.RawMessage) (out RouteOutcome) {
	var ev dto.StripeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		out.Reason = "malformed event"
		w.record(eventType, out)
		return out
	}
	if eventType == "" {
		eventType = ev.Type
	}
	defer func() { w.record(eventType, out) }()

	if _, ok := w.allowed[eventType]; !ok {
		out.Reason = "event type not handled"
		return out
	}

	out.CorrelationKey = CorrelationKey(eventType, ev.Data.Object)
	dev, fallback, ok := w.reg.Resolve(out.CorrelationKey)
	if !ok {
		out.Reason = "no device for event"
		return out
	}
	out.DeviceID, out.Fallback = dev.ID, fallback

	addr := dev.Network.Address()
	if addr == "" {
		out.Reason = "device has no known address"
		return out
	}
	port := dev.Network.VendPort
	if port == 0 {
		port = w.vendPort
	}
	body, _ := json.Marshal(dto.ForwardedWebhook{EventType: eventType, Payload: raw})
	url := devicehttp.URL(addr, port, w.path)
	if err := w.fwd.PostJSON(ctx, url, body); err != nil {
		out.Reason = err.Error()
		return out
	}
	out.Forwarded = true
	return out
}

func (w *WebhookRouter) record(eventType string, out RouteOutcome) {
	ev := global.Logger.Info()
	if !out.Forwarded {
		ev = global.Logger.Warn().Str("reason", out.Reason)
	}
	ev.Str("event", eventType).Str("device", out.DeviceID).Bool("fallback", out.Fallback).Msg("webhook routed")
	if w.recorder == nil {
		return
	}
	rec := &models.WebhookEvent{
		Provider:       ProviderStripe,
		EventType:      eventType,
		CorrelationKey: out.CorrelationKey,
		DeviceID:       out.DeviceID,
		Forwarded:      out.Forwarded,
		Reason:         truncate(out.Reason, 255),
	}
	if err := w.recorder.Create(rec); err != nil {
		global.Logger.Warn().Err(err).Msg("record webhook event")
	}
}

type stripeObject struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
	// latest_charge is an id string unless the event was expanded.
	LatestCharge json.RawMessage `json:"latest_charge"`
}

type stripeCharge struct {
	PaymentMethodDetails struct {
		CardPresent struct {
			Reader string `json:"reader"`
		} `json:"card_present"`
		InteracPresent struct {
			Reader string `json:"reader"`
		} `json:"interac_present"`
	} `json:"payment_method_details"`
}

// CorrelationKey extracts the value identifying the device from a Stripe
// event object: the reader id for reader events, the machine id metadata or
// the charging reader for payment intents.
func CorrelationKey(eventType string, object json.RawMessage) string {
	var obj stripeObject
	if len(object) == 0 || json.Unmarshal(object, &obj) != nil {
		return ""
	}
	switch {
	case strings.HasPrefix(eventType, "terminal.reader."):
		return obj.ID
	case strings.HasPrefix(eventType, "payment_intent."):
		if id := obj.Metadata["machineId"]; id != "" {
			return id
		}
		var ch stripeCharge
		if len(obj.LatestCharge) > 0 && json.Unmarshal(obj.LatestCharge, &ch) == nil {
			if r := ch.PaymentMethodDetails.CardPresent.Reader; r != "" {
				return r
			}
			return ch.PaymentMethodDetails.InteracPresent.Reader
		}
	}
	return ""
}

var (
	ErrSignatureMissing = errors.New("missing signature")
	ErrSignatureInvalid = errors.New("signature mismatch")
	ErrSignatureExpired = errors.New("signature timestamp outside tolerance")
)

// VerifyStripeSignature checks a Stripe-Signature header of the form
// "t=<unix>,v1=<hex hmac>" against the raw request body.
func VerifyStripeSignature(body []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return ErrSignatureMissing
	}
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrSignatureMissing
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	if tolerance > 0 {
		if d := now.Sub(time.Unix(sec, 0)); d > tolerance || d < -tolerance {
			return ErrSignatureExpired
		}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	want := mac.Sum(nil)
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err == nil && hmac.Equal(got, want) {
			return nil
		}
	}
	return ErrSignatureInvalid
}
