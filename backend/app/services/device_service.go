package services

import (
	"time"

	"shaka-fleet/backend/app/apperr"
	"shaka-fleet/backend/app/dto"
	"shaka-fleet/backend/app/models"
	"shaka-fleet/backend/app/registry"
)

// OnlineChecker reports whether a device holds a live channel.
type OnlineChecker interface {
	Online(deviceID string) bool
}

// DeviceService is the read/administer view over the registry.
type DeviceService struct {
	reg        *registry.Registry
	live       OnlineChecker
	staleAfter time.Duration
	now        func() time.Time
}

func NewDeviceService(reg *registry.Registry, live OnlineChecker, staleAfter time.Duration) *DeviceService {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &DeviceService{reg: reg, live: live, staleAfter: staleAfter, now: time.Now}
}

func (s *DeviceService) summarize(d models.Device) dto.DeviceSummary {
	live := s.live != nil && s.live.Online(d.ID)
	stale := d.Stale(s.now(), s.staleAfter)
	return dto.DeviceSummary{Device: d, Live: live, Stale: stale, Online: live || !stale}
}

func (s *DeviceService) ListAll() []dto.DeviceSummary {
	devs := s.reg.List()
	out := make([]dto.DeviceSummary, 0, len(devs))
	for _, d := range devs {
		out = append(out, s.summarize(d))
	}
	return out
}

func (s *DeviceService) Find(id string) (dto.DeviceSummary, error) {
	d, ok := s.reg.Get(id)
	if !ok {
		return dto.DeviceSummary{}, apperr.NotFound("device", id)
	}
	return s.summarize(d), nil
}

// Remove forgets a device. A heartbeat afterwards registers it again.
func (s *DeviceService) Remove(id string) error {
	if !s.reg.Delete(id) {
		return apperr.NotFound("device", id)
	}
	return nil
}
