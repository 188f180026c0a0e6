// Package registry holds the in-memory set of known devices. It is rebuilt
// from heartbeats after a restart and never persisted.
package registry

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"shaka-fleet/backend/app/models"
)

type Registry struct {
	mu      sync.RWMutex
	devices map[string]*models.Device
	now     func() time.Time
}

func New() *Registry {
	return &Registry{devices: make(map[string]*models.Device), now: time.Now}
}

// WithClock swaps the time source. Tests use it to pin timestamps.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) Get(id string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return models.Device{}, false
	}
	return d.Clone(), true
}

func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[id]
	return ok
}

// Upsert applies fn to the device under the write lock, creating it first if
// needed, and returns the resulting state. fn must not call back into the
// registry.
func (r *Registry) Upsert(id string, fn func(d *models.Device)) models.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		now := r.now()
		d = &models.Device{
			ID:          id,
			FirstSeenAt: now,
			LastSeenAt:  now,
			Pending:     make(map[models.CommandKind]models.PendingCommand),
			ExternalIDs: make(map[string]string),
		}
		r.devices[id] = d
	}
	if fn != nil {
		fn(d)
	}
	return d.Clone()
}

// Update is Upsert for devices that must already exist.
func (r *Registry) Update(id string, fn func(d *models.Device)) (models.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return models.Device{}, false
	}
	if fn != nil {
		fn(d)
	}
	return d.Clone(), true
}

func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return false
	}
	delete(r.devices, id)
	return true
}

// List returns every device ordered by id.
func (r *Registry) List() []models.Device {
	r.mu.RLock()
	out := make([]models.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Clone())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b models.Device) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Resolve finds the device a provider correlation key belongs to. An exact
// match on id or external id wins. Otherwise, with exactly one device known,
// that device is returned and fallback is true.
func (r *Registry) Resolve(key string) (dev models.Device, fallback bool, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if key != "" {
		if d, hit := r.devices[key]; hit {
			return d.Clone(), false, true
		}
		ids := slices.Sorted(maps.Keys(r.devices))
		for _, id := range ids {
			if d := r.devices[id]; d.MatchesCorrelation(key) {
				return d.Clone(), false, true
			}
		}
	}
	if len(r.devices) == 1 {
		for _, d := range r.devices {
			return d.Clone(), true, true
		}
	}
	return models.Device{}, false, false
}
