// Package socket manages the live channels devices keep open to the backend.
package socket

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"shaka-fleet/backend/app/apperr"
	"shaka-fleet/backend/app/dto"
	jwtutil "shaka-fleet/backend/app/jwt"
	"shaka-fleet/backend/app/models"
	"shaka-fleet/backend/app/services"
	"shaka-fleet/backend/global"

	"github.com/gorilla/websocket"
)

// DeviceBackend is the registry side the hub feeds.
type DeviceBackend interface {
	EnsureDevice(deviceID string)
	Ingest(deviceID string, hb dto.Heartbeat, src dto.SourceInfo) (dto.HeartbeatAck, error)
	DrainAll(deviceID string) []models.PendingCommand
	Requeue(deviceID string, cmd models.PendingCommand)
}

type TokenVerifier interface {
	Parse(token string) (*jwtutil.Claims, error)
}

type Options struct {
	ProbeInterval time.Duration
	WriteTimeout  time.Duration
	AuthTimeout   time.Duration
	MaxFrameBytes int64
	RequireToken  bool
}

func (o *Options) normalize() {
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 15 * time.Second
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 1 << 20
	}
}

type Hub struct {
	mu      sync.RWMutex
	byID    map[string]*Conn
	backend DeviceBackend
	tokens  TokenVerifier
	opts    Options
}

func NewHub(backend DeviceBackend, tokens TokenVerifier, opts Options) *Hub {
	opts.normalize()
	return &Hub{byID: make(map[string]*Conn), backend: backend, tokens: tokens, opts: opts}
}

// register installs c for its device and closes whatever channel the
// device held before.
func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	prev := h.byID[c.DeviceID]
	h.byID[c.DeviceID] = c
	h.mu.Unlock()
	if prev != nil && prev != c {
		global.Logger.Info().Str("device", c.DeviceID).Str("conn", prev.ID).Msg("live channel replaced")
		prev.Close()
	}
}

// unregister removes the entry only while it still belongs to c.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if cur, ok := h.byID[c.DeviceID]; ok && cur == c {
		delete(h.byID, c.DeviceID)
	}
	h.mu.Unlock()
}

func (h *Hub) lookup(deviceID string) *Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byID[deviceID]
}

func (h *Hub) Online(deviceID string) bool { return h.lookup(deviceID) != nil }

func (h *Hub) OnlineIDs() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.byID))
	for id := range h.byID {
		out = append(out, id)
	}
	h.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Push writes a frame to the device's live channel. False means there is no
// usable channel; a failed write also drops the channel.
func (h *Hub) Push(deviceID string, frame []byte) bool {
	c := h.lookup(deviceID)
	if c == nil || c.State() != StateAuthenticated {
		return false
	}
	if err := c.write(frame); err != nil {
		global.Logger.Warn().Err(err).Str("device", deviceID).Msg("live push failed")
		h.drop(c)
		return false
	}
	return true
}

func (h *Hub) drop(c *Conn) {
	h.unregister(c)
	c.Close()
}

// Serve runs the connection until it closes. It blocks.
func (h *Hub) Serve(ws *websocket.Conn, src dto.SourceInfo) {
	c := newConn(ws, src, h.opts.WriteTimeout)
	log := global.Logger.With().Str("conn", c.ID).Str("remote", src.RemoteIP).Logger()
	defer func() {
		h.drop(c)
		log.Info().Str("device", c.DeviceID).Msg("live channel closed")
	}()

	ws.SetReadLimit(h.opts.MaxFrameBytes)
	ws.SetPongHandler(func(string) error {
		c.unconfirmed.Store(false)
		return nil
	})
	c.setState(StateAuthenticating)
	_ = ws.SetReadDeadline(time.Now().Add(h.opts.AuthTimeout))

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("live read ended")
			}
			return
		}
		c.unconfirmed.Store(false)

		var msg dto.LiveInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			perr := apperr.Protocol("malformed frame", c.State() != StateAuthenticated)
			log.Warn().Err(perr).Msg("live frame ignored")
			if c.State() != StateAuthenticated {
				_ = c.writeJSON(dto.ErrorFrame{Type: dto.FrameError, Error: "expected auth frame"})
				return
			}
			continue
		}

		if c.State() != StateAuthenticated {
			if err := h.authenticate(c, msg); err != nil {
				log.Warn().Err(err).Msg("live auth rejected")
				_ = c.writeJSON(dto.ErrorFrame{Type: dto.FrameError, Error: err.Error()})
				return
			}
			continue
		}
		h.handle(c, msg)
	}
}

func (h *Hub) authenticate(c *Conn, msg dto.LiveInbound) error {
	if msg.Type != dto.FrameAuth {
		return apperr.Protocol("first frame must be auth", true)
	}
	id := strings.TrimSpace(msg.MachineID)
	if id == "" {
		id = strings.TrimSpace(msg.DeviceID)
	}
	if err := services.ValidateDeviceID(id); err != nil {
		return err
	}
	if err := h.checkToken(id, msg.Token); err != nil {
		return err
	}

	c.DeviceID = id
	_ = c.ws.SetReadDeadline(time.Time{})
	h.backend.EnsureDevice(id)
	// auth-ok must be the first frame the device reads, so the channel only
	// becomes pushable after it is written.
	if err := c.writeJSON(dto.AuthOK{Type: dto.FrameAuthOK, MachineID: id}); err != nil {
		return err
	}
	c.setState(StateAuthenticated)
	h.register(c)
	global.Logger.Info().Str("device", id).Str("conn", c.ID).Msg("live channel authenticated")
	h.flush(c, h.backend.DrainAll(id))
	return nil
}

func (h *Hub) checkToken(deviceID, token string) error {
	if token == "" {
		if h.opts.RequireToken {
			return apperr.Protocol("token required", true)
		}
		return nil
	}
	if h.tokens == nil || strings.Count(token, ".") < 2 {
		// opaque tokens are accepted as-is
		return nil
	}
	claims, err := h.tokens.Parse(token)
	if err != nil {
		return apperr.Protocol("invalid token", true)
	}
	if claims.DeviceID != "" && claims.DeviceID != deviceID {
		return apperr.Protocol("token issued for another device", true)
	}
	return nil
}

// flush pushes drained commands and puts back whatever could not be written.
func (h *Hub) flush(c *Conn, cmds []models.PendingCommand) {
	for i, cmd := range cmds {
		frame, err := dto.CommandFrame(string(cmd.Kind), cmd.Payload)
		if err == nil {
			err = c.write(frame)
		}
		if err != nil {
			global.Logger.Warn().Err(err).Str("device", c.DeviceID).Msg("live flush failed, requeueing")
			for _, rest := range cmds[i:] {
				h.backend.Requeue(c.DeviceID, rest)
			}
			return
		}
	}
	if len(cmds) > 0 {
		global.Logger.Info().Str("device", c.DeviceID).Int("commands", len(cmds)).Msg("pending commands pushed live")
	}
}

// pendingFromAck turns the commands a heartbeat drained back into slots so
// a failed push can requeue them.
func pendingFromAck(ack dto.HeartbeatAck) []models.PendingCommand {
	out := make([]models.PendingCommand, 0, len(ack.Commands))
	for _, c := range ack.Commands {
		out = append(out, models.PendingCommand{Kind: models.CommandKind(c.Kind), Payload: c.Payload, QueuedAt: c.QueuedAt})
	}
	return out
}

func (h *Hub) handle(c *Conn, msg dto.LiveInbound) {
	log := global.Logger.With().Str("device", c.DeviceID).Str("type", msg.Type).Logger()
	switch msg.Type {
	case dto.FrameHeartbeat, dto.FrameTelemetry:
		var hb dto.Heartbeat
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &hb); err != nil {
				log.Warn().Err(apperr.Protocol("malformed heartbeat data", false)).Msg("live frame ignored")
				return
			}
		}
		src := c.Source
		src.ReceivedAt = time.Now()
		// the channel is bound to one device regardless of the id in data
		ack, err := h.backend.Ingest(c.DeviceID, hb, src)
		if err != nil {
			log.Warn().Err(err).Msg("live heartbeat rejected")
			return
		}
		_ = c.writeJSON(dto.HeartbeatAckFrame{Type: dto.FrameHeartbeatAck, OK: true, MachineID: c.DeviceID, ServerTime: src.ReceivedAt.UTC()})
		h.flush(c, pendingFromAck(ack))
	case dto.FrameCommandResult, dto.FrameSyncAck:
		log.Info().Str("status", msg.Status).Int("count", msg.Count).Str("error", msg.Error).Msg("device acknowledged command")
	case dto.FrameAuth:
		log.Debug().Msg("repeated auth ignored")
	default:
		log.Debug().Msg("unknown live frame type")
	}
}

// Run probes connections every ProbeInterval until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.opts.ProbeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.sweep()
		}
	}
}

// sweep closes channels that stayed silent since the previous sweep and
// pings the rest.
func (h *Hub) sweep() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.byID))
	for _, c := range h.byID {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if c.unconfirmed.Load() {
			global.Logger.Info().Str("device", c.DeviceID).Msg("live channel unresponsive, closing")
			h.drop(c)
			continue
		}
		c.unconfirmed.Store(true)
		if err := c.ping(); err != nil {
			h.drop(c)
		}
	}
}

// Close shuts every live channel.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.byID
	h.byID = make(map[string]*Conn)
	h.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
