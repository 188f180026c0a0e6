package state

import (
	"encoding/json"
	"sync"
	"time"

	"shaka-fleet/agent/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Machine is what the simulated vending machine currently runs with.
type Machine struct {
	mu        sync.RWMutex
	store     *gorm.DB
	startedAt time.Time
	products  json.RawMessage
	terminal  json.RawMessage
	webhooks  int
}

// Load restores the last applied commands from the local store.
func Load(store *gorm.DB) (*Machine, error) {
	m := &Machine{store: store, startedAt: time.Now()}
	if store == nil {
		return m, nil
	}
	var rows []db.AppliedCommand
	if err := store.Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		m.set(r.Kind, json.RawMessage(r.Payload))
	}
	return m, nil
}

func (m *Machine) set(kind string, payload json.RawMessage) {
	switch kind {
	case "sync-products":
		m.products = payload
	case "terminal-config":
		m.terminal = payload
	}
}

// Apply stores a command payload and persists it.
func (m *Machine) Apply(kind string, payload json.RawMessage, transport string) error {
	m.mu.Lock()
	m.set(kind, payload)
	m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	row := db.AppliedCommand{Kind: kind, Payload: string(payload), Transport: transport, AppliedAt: time.Now()}
	return m.store.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (m *Machine) Products() json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.products
}

func (m *Machine) Terminal() json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.terminal
}

func (m *Machine) CountWebhook() {
	m.mu.Lock()
	m.webhooks++
	m.mu.Unlock()
}

func (m *Machine) Webhooks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.webhooks
}

func (m *Machine) Uptime() time.Duration { return time.Since(m.startedAt) }
