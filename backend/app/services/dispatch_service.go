package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"shaka-fleet/backend/app/apperr"
	"shaka-fleet/backend/app/devicehttp"
	"shaka-fleet/backend/app/dto"
	"shaka-fleet/backend/app/models"
	"shaka-fleet/backend/app/registry"
	"shaka-fleet/backend/config"
	"shaka-fleet/backend/global"
)

const (
	TransportLive   = "live"
	TransportDirect = "direct-http"
	TransportQueued = "queued"
)

// LivePusher writes a frame onto a device's live channel.
type LivePusher interface {
	Push(deviceID string, frame []byte) bool
}

// DirectPusher posts JSON to a device's local HTTP server.
type DirectPusher interface {
	PostJSON(ctx context.Context, url string, body []byte) error
}

type DeliveryRecorder interface {
	Create(rec *models.DeliveryRecord) error
}

type DeliveryResult struct {
	DeviceID    string
	Kind        models.CommandKind
	Transport   string
	DeliveredAt time.Time
	// Error is the last transport failure seen before the winning path.
	Error string
}

// Dispatcher delivers a command through live push, then direct HTTP, then
// the pending slot read on the next heartbeat.
type Dispatcher struct {
	reg      *registry.Registry
	live     LivePusher
	direct   DirectPusher
	recorder DeliveryRecorder
	routes   map[string]config.Route
	vendPort int
	locks    keyedMutex
	now      func() time.Time
}

func NewDispatcher(reg *registry.Registry, live LivePusher, direct DirectPusher, recorder DeliveryRecorder, cfg config.Dispatch) *Dispatcher {
	port := cfg.DefaultVendPort
	if port <= 0 {
		port = 5001
	}
	return &Dispatcher{
		reg:      reg,
		live:     live,
		direct:   direct,
		recorder: recorder,
		routes:   cfg.Routes,
		vendPort: port,
		now:      time.Now,
	}
}

func (s *Dispatcher) Deliver(ctx context.Context, deviceID string, kind models.CommandKind, payload json.RawMessage) (DeliveryResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if err := ValidateDeviceID(deviceID); err != nil {
		return DeliveryResult{}, err
	}
	if !kind.Valid() {
		return DeliveryResult{}, apperr.Validation("kind", "unknown command kind "+string(kind))
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return DeliveryResult{}, apperr.Validation("payload", "must be valid JSON")
	}
	if !s.reg.Exists(deviceID) {
		return DeliveryResult{}, apperr.NotFound("device", deviceID)
	}

	unlock := s.locks.Lock(deviceID)
	defer unlock()

	if kind == models.KindTerminalConfig {
		s.rememberReader(deviceID, payload)
	}

	res := DeliveryResult{DeviceID: deviceID, Kind: kind}
	log := global.Logger.With().Str("device", deviceID).Str("kind", string(kind)).Logger()

	if s.live != nil {
		frame, err := dto.CommandFrame(string(kind), payload)
		if err == nil && s.live.Push(deviceID, frame) {
			return s.finish(res, TransportLive, payload), nil
		}
		log.Debug().Msg("no live channel, trying direct push")
	}

	if s.direct != nil {
		if dev, ok := s.reg.Get(deviceID); ok {
			if url, ok := s.directURL(dev, kind); ok {
				err := s.direct.PostJSON(ctx, url, payload)
				if err == nil {
					return s.finish(res, TransportDirect, payload), nil
				}
				res.Error = err.Error()
				log.Warn().Err(err).Str("url", url).Msg("direct push failed, queueing")
			}
		}
	}

	now := s.now()
	if _, ok := s.reg.Update(deviceID, func(d *models.Device) { registry.Queue(d, kind, payload, now) }); !ok {
		return DeliveryResult{}, apperr.NotFound("device", deviceID)
	}
	return s.finish(res, TransportQueued, payload), nil
}

func (s *Dispatcher) directURL(dev models.Device, kind models.CommandKind) (string, bool) {
	addr := dev.Network.Address()
	if addr == "" {
		return "", false
	}
	route, ok := s.routes[string(kind)]
	if !ok || route.Path == "" {
		return "", false
	}
	port := route.Port
	if port == 0 {
		port = dev.Network.VendPort
	}
	if port == 0 {
		port = s.vendPort
	}
	return devicehttp.URL(addr, port, route.Path), true
}

func (s *Dispatcher) rememberReader(deviceID string, payload json.RawMessage) {
	var body struct {
		Config struct {
			ReaderID string `json:"readerId"`
		} `json:"config"`
	}
	if json.Unmarshal(payload, &body) != nil || body.Config.ReaderID == "" {
		return
	}
	s.reg.Update(deviceID, func(d *models.Device) {
		if d.ExternalIDs == nil {
			d.ExternalIDs = make(map[string]string)
		}
		d.ExternalIDs["stripeReaderId"] = body.Config.ReaderID
	})
}

func (s *Dispatcher) finish(res DeliveryResult, transport string, payload json.RawMessage) DeliveryResult {
	res.Transport = transport
	res.DeliveredAt = s.now()
	global.Logger.Info().Str("device", res.DeviceID).Str("kind", string(res.Kind)).Str("transport", transport).Msg("command delivered")
	if s.recorder != nil {
		rec := &models.DeliveryRecord{
			DeviceID:  res.DeviceID,
			Kind:      string(res.Kind),
			Transport: transport,
			Payload:   string(payload),
			LastError: truncate(res.Error, 512),
		}
		if err := s.recorder.Create(rec); err != nil {
			global.Logger.Warn().Err(err).Msg("record delivery")
		}
	}
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// keyedMutex serializes work per device id. Entries are dropped once no
// goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
