package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"shaka-fleet/agent/internal/command"
	"shaka-fleet/agent/internal/config"
	"shaka-fleet/agent/internal/device"
	"shaka-fleet/agent/internal/logger"
	"shaka-fleet/agent/internal/state"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const authWait = 15 * time.Second

// Manager keeps one live channel to the backend open, reconnecting with
// backoff whenever it drops.
type Manager struct {
	cfg     config.AppConfig
	machine *state.Machine
	cmds    *command.Manager
	dialer  *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

func New(cfg config.AppConfig, machine *state.Machine, cmds *command.Manager) *Manager {
	return &Manager{cfg: cfg, machine: machine, cmds: cmds, dialer: websocket.DefaultDialer}
}

func (m *Manager) IsConnected() bool { return m.connected.Load() }

// Run connects and serves until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 1.5
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for attempt := 1; ; attempt++ {
		logger.L.Info().Str("url", m.cfg.LiveURL()).Int("attempt", attempt).Msg("connecting to backend")
		authed, err := m.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if authed {
			b.Reset()
			attempt = 0
		}
		wait := b.NextBackOff()
		logger.L.Warn().Err(err).Dur("retry_in", wait).Msg("live channel down")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connection. authed reports whether the backend accepted us.
func (m *Manager) session(ctx context.Context) (authed bool, err error) {
	conn, _, err := m.dialer.DialContext(ctx, m.cfg.LiveURL(), nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	defer func() {
		m.connected.Store(false)
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		conn.Close()
	}()

	if err := m.send(map[string]string{"type": "auth", "machineId": m.cfg.MachineID, "token": m.cfg.Token}); err != nil {
		return false, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(authWait))
	var first struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		return false, fmt.Errorf("auth: %w", err)
	}
	if first.Type != "auth-ok" {
		return false, fmt.Errorf("auth refused: %s", first.Error)
	}
	_ = conn.SetReadDeadline(time.Time{})
	m.connected.Store(true)
	logger.L.Info().Str("machine", m.cfg.MachineID).Msg("live channel authenticated")

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sctx.Done()
		// unblocks ReadMessage
		_ = conn.Close()
	}()
	go m.heartbeatLoop(sctx)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		m.handle(frame)
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context) {
	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		hb := device.Snapshot(m.cfg, m.machine)
		if err := m.send(map[string]any{"type": "heartbeat", "machineId": m.cfg.MachineID, "data": hb}); err != nil {
			logger.L.Warn().Err(err).Msg("heartbeat not sent")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (m *Manager) handle(frame []byte) {
	var head struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		logger.L.Warn().Err(err).Msg("unreadable frame")
		return
	}
	switch {
	case head.Type == "heartbeat-ack":
		logger.L.Debug().Msg("heartbeat acknowledged")
	case head.Type == "error":
		logger.L.Warn().Str("error", head.Error).Msg("backend reported an error")
	case m.cmds.Handles(head.Type):
		kind, payload, err := command.FromFrame(frame)
		if err != nil {
			logger.L.Warn().Err(err).Msg("bad command frame")
			return
		}
		res := m.cmds.Dispatch(kind, payload, "live")
		if err := m.send(res); err != nil {
			logger.L.Warn().Err(err).Msg("command result not sent")
		}
	default:
		logger.L.Debug().Str("type", head.Type).Msg("frame ignored")
	}
}

var errNotConnected = errors.New("not connected")

// send writes one JSON frame. Safe for concurrent use.
func (m *Manager) send(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return errNotConnected
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return m.conn.WriteJSON(v)
}
