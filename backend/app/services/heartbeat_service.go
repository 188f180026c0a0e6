package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"shaka-fleet/backend/app/apperr"
	"shaka-fleet/backend/app/dto"
	"shaka-fleet/backend/app/models"
	"shaka-fleet/backend/app/registry"
	"shaka-fleet/backend/global"
)

const maxDeviceIDLen = 128

// ValidateDeviceID rejects ids that cannot key the registry.
func ValidateDeviceID(id string) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Validation("machineId", "required")
	}
	if len(id) > maxDeviceIDLen {
		return apperr.Validation("machineId", fmt.Sprintf("longer than %d bytes", maxDeviceIDLen))
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return apperr.Validation("machineId", "contains control characters")
		}
	}
	return nil
}

type HeartbeatService struct {
	reg *registry.Registry
	now func() time.Time
}

func NewHeartbeatService(reg *registry.Registry) *HeartbeatService {
	return &HeartbeatService{reg: reg, now: time.Now}
}

// Ingest records a heartbeat and hands back every command that was waiting
// for the device. The ack is produced even if merging the payload fails.
func (s *HeartbeatService) Ingest(deviceID string, hb dto.Heartbeat, src dto.SourceInfo) (ack dto.HeartbeatAck, err error) {
	deviceID = strings.TrimSpace(deviceID)
	if err := ValidateDeviceID(deviceID); err != nil {
		return dto.HeartbeatAck{}, err
	}
	now := s.now()
	if src.ReceivedAt.IsZero() {
		src.ReceivedAt = now
	}
	ack = dto.HeartbeatAck{OK: true, MachineID: deviceID, ServerTime: now.UTC(), Commands: []dto.CommandOut{}}

	defer func() {
		if r := recover(); r != nil {
			global.Logger.Error().Str("device", deviceID).Interface("panic", r).Msg("heartbeat ingest failed")
		}
	}()

	var drained []models.PendingCommand
	s.reg.Upsert(deviceID, func(d *models.Device) {
		s.merge(d, hb)
		registry.Touch(d, now)
		if !hb.Uptime.Set {
			d.Uptime = registry.FormatUptime(now.Sub(d.FirstSeenAt))
		}
		var meta json.RawMessage
		if hb.Meta.HasValue() {
			meta = hb.Meta.Value
		}
		registry.StampNetwork(d, src, meta, src.ReceivedAt)
		drained = registry.DrainPending(d)
	})

	for _, c := range drained {
		ack.Commands = append(ack.Commands, dto.CommandOut{Kind: string(c.Kind), Payload: c.Payload, QueuedAt: c.QueuedAt})
	}
	if len(drained) > 0 {
		global.Logger.Info().Str("device", deviceID).Int("commands", len(drained)).Msg("pending commands handed over on heartbeat")
	}
	return ack, nil
}

// merge isolates payload problems so the device still gets its liveness
// stamp and its commands.
func (s *HeartbeatService) merge(d *models.Device, hb dto.Heartbeat) {
	defer func() {
		if r := recover(); r != nil {
			global.Logger.Error().Str("device", d.ID).Interface("panic", r).Msg("heartbeat merge failed")
		}
	}()
	registry.MergeHeartbeat(d, hb)
}

// DrainKind hands over one pending slot, for agents that poll instead of
// reading the heartbeat ack.
func (s *HeartbeatService) DrainKind(deviceID string, kind models.CommandKind) (models.PendingCommand, bool, error) {
	if !kind.Valid() {
		return models.PendingCommand{}, false, apperr.Validation("kind", "unknown command kind")
	}
	var (
		cmd models.PendingCommand
		ok  bool
	)
	_, exists := s.reg.Update(deviceID, func(d *models.Device) {
		cmd, ok = registry.DrainOne(d, kind)
	})
	if !exists {
		return models.PendingCommand{}, false, apperr.NotFound("device", deviceID)
	}
	return cmd, ok, nil
}

// DrainAll empties every slot of a known device.
func (s *HeartbeatService) DrainAll(deviceID string) []models.PendingCommand {
	var out []models.PendingCommand
	s.reg.Update(deviceID, func(d *models.Device) { out = registry.DrainPending(d) })
	return out
}

// Requeue puts back a command that could not be handed over, unless a newer
// one took its slot meanwhile.
func (s *HeartbeatService) Requeue(deviceID string, cmd models.PendingCommand) {
	s.reg.Update(deviceID, func(d *models.Device) {
		if _, taken := d.Pending[cmd.Kind]; taken {
			return
		}
		if d.Pending == nil {
			d.Pending = make(map[models.CommandKind]models.PendingCommand)
		}
		d.Pending[cmd.Kind] = cmd
	})
}

// EnsureDevice registers a device announced over a live channel.
func (s *HeartbeatService) EnsureDevice(deviceID string) {
	now := s.now()
	s.reg.Upsert(deviceID, func(d *models.Device) { registry.Touch(d, now) })
}
