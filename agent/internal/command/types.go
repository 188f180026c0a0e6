package command

import "encoding/json"

// Handler applies one command kind to the machine.
type Handler interface {
	// Validate checks the payload before anything is applied.
	Validate(payload json.RawMessage) error
	// Apply installs the payload and reports how many items it carried.
	Apply(payload json.RawMessage, transport string) (int, error)
	// Ack is the frame type sent back on the live channel.
	Ack() string
}

// Result is what the machine reports back after a command.
type Result struct {
	Type   string `json:"type"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Count  int    `json:"count,omitempty"`
	Error  string `json:"error,omitempty"`
}
