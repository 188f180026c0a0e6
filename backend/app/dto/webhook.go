package dto

import "encoding/json"

// StripeEvent is the outer shape of a provider webhook delivery.
type StripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ForwardedWebhook is the body posted to the device's vend server.
type ForwardedWebhook struct {
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

type WebhookReceived struct {
	Received bool `json:"received"`
}
