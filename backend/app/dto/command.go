package dto

import (
	"encoding/json"
	"time"
)

// CommandRequest triggers a delivery from the admin surface.
type CommandRequest struct {
	DeviceID string          `json:"deviceid"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

type CommandResponse struct {
	DeviceID    string    `json:"deviceid"`
	Kind        string    `json:"kind"`
	Transport   string    `json:"transport"`
	DeliveredAt time.Time `json:"deliveredAt"`
	Error       string    `json:"error,omitempty"`
}

type DeliveryRecordResponse struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceid"`
	Kind      string    `json:"kind"`
	Transport string    `json:"transport"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
