package command

import (
	"encoding/json"
	"fmt"
	"sync"

	"shaka-fleet/agent/internal/logger"
)

// Manager routes incoming commands to their handlers. Commands of the same
// kind are applied one at a time.
type Manager struct {
	mu       sync.Mutex
	handlers map[string]Handler
}

func NewManager() *Manager { return &Manager{handlers: map[string]Handler{}} }

func (m *Manager) Register(kind string, h Handler) { m.handlers[kind] = h }

func (m *Manager) Handles(kind string) bool {
	_, ok := m.handlers[kind]
	return ok
}

// Dispatch applies a command and describes the outcome.
func (m *Manager) Dispatch(kind string, payload json.RawMessage, transport string) Result {
	h, ok := m.handlers[kind]
	if !ok {
		logger.L.Warn().Str("kind", kind).Msg("unknown command")
		return Result{Type: "command-result", Kind: kind, Status: "error", Error: "unknown command " + kind}
	}
	res := Result{Type: h.Ack(), Kind: kind, Status: "ok"}
	if err := h.Validate(payload); err != nil {
		res.Status, res.Error = "error", err.Error()
		logger.L.Error().Err(err).Str("kind", kind).Msg("command rejected")
		return res
	}

	m.mu.Lock()
	n, err := h.Apply(payload, transport)
	m.mu.Unlock()
	if err != nil {
		res.Status, res.Error = "error", fmt.Sprintf("apply: %v", err)
		logger.L.Error().Err(err).Str("kind", kind).Msg("command failed")
		return res
	}
	res.Count = n
	logger.L.Info().Str("kind", kind).Str("via", transport).Int("count", n).Msg("command applied")
	return res
}

// FromFrame splits a live command frame into kind and payload. Object
// payloads arrive flattened next to "type"; anything else under "payload".
func FromFrame(frame []byte) (kind string, payload json.RawMessage, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return "", nil, err
	}
	if err := json.Unmarshal(fields["type"], &kind); err != nil {
		return "", nil, fmt.Errorf("frame without type")
	}
	delete(fields, "type")
	if p, ok := fields["payload"]; ok && len(fields) == 1 {
		return kind, p, nil
	}
	payload, err = json.Marshal(fields)
	return kind, payload, err
}
