package dto

import (
	"encoding/json"
	"time"
)

// Frame types on the live channel.
const (
	FrameAuth          = "auth"
	FrameAuthOK        = "auth-ok"
	FrameHeartbeat     = "heartbeat"
	FrameTelemetry     = "telemetry"
	FrameHeartbeatAck  = "heartbeat-ack"
	FrameCommandResult = "command-result"
	FrameSyncAck       = "sync-ack"
	FrameError         = "error"
)

// LiveInbound is any frame a device sends. Fields unused by a given type stay empty.
type LiveInbound struct {
	Type      string          `json:"type"`
	MachineID string          `json:"machineId"`
	DeviceID  string          `json:"deviceId"`
	Token     string          `json:"token,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Status    string          `json:"status,omitempty"`
	Count     int             `json:"count,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type AuthOK struct {
	Type      string `json:"type"`
	MachineID string `json:"machineId"`
}

type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// HeartbeatAckFrame acknowledges a heartbeat sent over the live channel.
// Pending commands follow as their own frames.
type HeartbeatAckFrame struct {
	Type       string    `json:"type"`
	OK         bool      `json:"ok"`
	MachineID  string    `json:"machineId"`
	ServerTime time.Time `json:"serverTime"`
}

// CommandFrame flattens an object payload next to "type" so the agent reads
// fields such as "products" at the top level. Anything else is nested under
// "payload".
func CommandFrame(kind string, payload json.RawMessage) ([]byte, error) {
	var fields map[string]json.RawMessage
	if len(payload) > 0 && json.Unmarshal(payload, &fields) == nil && fields != nil {
		t, _ := json.Marshal(kind)
		fields["type"] = t
		return json.Marshal(fields)
	}
	return json.Marshal(struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}{kind, payload})
}
