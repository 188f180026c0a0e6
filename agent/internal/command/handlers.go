package command

import (
	"encoding/json"
	"errors"

	"shaka-fleet/agent/internal/state"
)

type syncProducts struct{ m *state.Machine }

func (h syncProducts) Ack() string { return "sync-ack" }

func (h syncProducts) decode(payload json.RawMessage) ([]json.RawMessage, error) {
	var body struct {
		Products []json.RawMessage `json:"products"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, err
	}
	if body.Products == nil {
		return nil, errors.New("products missing")
	}
	return body.Products, nil
}

func (h syncProducts) Validate(payload json.RawMessage) error {
	_, err := h.decode(payload)
	return err
}

func (h syncProducts) Apply(payload json.RawMessage, transport string) (int, error) {
	products, err := h.decode(payload)
	if err != nil {
		return 0, err
	}
	raw, _ := json.Marshal(products)
	return len(products), h.m.Apply("sync-products", raw, transport)
}

type terminalConfig struct{ m *state.Machine }

type readerConfig struct {
	ReaderID   string `json:"readerId"`
	SecretKey  string `json:"secretKey,omitempty"`
	MachineID  string `json:"machineId,omitempty"`
	Simulation bool   `json:"simulation"`
}

func (h terminalConfig) Ack() string { return "command-result" }

func (h terminalConfig) decode(payload json.RawMessage) (readerConfig, error) {
	var body struct {
		Config *readerConfig `json:"config"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return readerConfig{}, err
	}
	if body.Config == nil {
		// older consoles send the config unwrapped
		var c readerConfig
		if err := json.Unmarshal(payload, &c); err != nil {
			return readerConfig{}, err
		}
		body.Config = &c
	}
	if body.Config.ReaderID == "" {
		return readerConfig{}, errors.New("readerId missing")
	}
	return *body.Config, nil
}

func (h terminalConfig) Validate(payload json.RawMessage) error {
	_, err := h.decode(payload)
	return err
}

func (h terminalConfig) Apply(payload json.RawMessage, transport string) (int, error) {
	c, err := h.decode(payload)
	if err != nil {
		return 0, err
	}
	raw, _ := json.Marshal(c)
	return 1, h.m.Apply("terminal-config", raw, transport)
}

// NewMachineManager wires the handlers a vending machine understands.
func NewMachineManager(m *state.Machine) *Manager {
	mgr := NewManager()
	mgr.Register("sync-products", syncProducts{m})
	mgr.Register("terminal-config", terminalConfig{m})
	return mgr
}
