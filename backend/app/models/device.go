package models

import (
	"encoding/json"
	"maps"
	"time"
)

// CommandKind names one pending-command slot on a device.
type CommandKind string

const (
	KindSyncProducts   CommandKind = "sync-products"
	KindTerminalConfig CommandKind = "terminal-config"
)

// CommandKinds lists every slot a device carries.
var CommandKinds = []CommandKind{KindSyncProducts, KindTerminalConfig}

func (k CommandKind) Valid() bool {
	for _, c := range CommandKinds {
		if c == k {
			return true
		}
	}
	return false
}

// PendingCommand is an undelivered command waiting in a device slot.
type PendingCommand struct {
	Kind     CommandKind     `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	QueuedAt time.Time       `json:"queuedAt"`
}

// NetworkInfo is the origin observed on the most recent heartbeat.
type NetworkInfo struct {
	ForwardedFor string    `json:"forwardedFor,omitempty"`
	SourceIP     string    `json:"sourceIp,omitempty"`
	DeclaredIP   string    `json:"declaredIp,omitempty"`
	PublicIP     string    `json:"publicIp,omitempty"`
	Hostname     string    `json:"hostname,omitempty"`
	VendPort     int       `json:"vendPort,omitempty"`
	ObservedAt   time.Time `json:"observedAt"`
}

// Address picks the host used to reach the device directly. Observed origin
// wins over what the device declares about itself.
func (n NetworkInfo) Address() string {
	for _, a := range []string{n.ForwardedFor, n.SourceIP, n.PublicIP, n.DeclaredIP} {
		if a != "" && a != "unknown" {
			return a
		}
	}
	return ""
}

// Device is the registry value for one fleet member.
type Device struct {
	ID              string                         `json:"id"`
	DisplayName     string                         `json:"displayName,omitempty"`
	Status          string                         `json:"status,omitempty"`
	Location        string                         `json:"location,omitempty"`
	Uptime          string                         `json:"uptime,omitempty"`
	FirstSeenAt     time.Time                      `json:"firstSeenAt"`
	LastSeenAt      time.Time                      `json:"lastSeenAt"`
	Sensors         map[string]json.RawMessage     `json:"sensors,omitempty"`
	Inventory       json.RawMessage                `json:"inventory,omitempty"`
	Proximity       json.RawMessage                `json:"proximityStats,omitempty"`
	Snapshots       json.RawMessage                `json:"snapshots,omitempty"`
	Meta            json.RawMessage                `json:"meta,omitempty"`
	FirmwareVersion string                         `json:"firmwareVersion,omitempty"`
	AgentVersion    string                         `json:"agentVersion,omitempty"`
	Network         NetworkInfo                    `json:"networkInfo"`
	Pending         map[CommandKind]PendingCommand `json:"pendingCommands,omitempty"`
	ExternalIDs     map[string]string              `json:"externalCorrelationIds,omitempty"`
}

// Clone copies the device so callers never share maps with the registry.
// Raw JSON blobs are replaced, never mutated in place, so they are shared.
func (d Device) Clone() Device {
	out := d
	out.Sensors = maps.Clone(d.Sensors)
	out.Pending = maps.Clone(d.Pending)
	out.ExternalIDs = maps.Clone(d.ExternalIDs)
	return out
}

// Stale reports whether the device has been silent longer than threshold.
func (d Device) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(d.LastSeenAt) > threshold
}

// MatchesCorrelation reports whether key names this device directly or via
// one of its provider ids.
func (d Device) MatchesCorrelation(key string) bool {
	if key == "" {
		return false
	}
	if d.ID == key {
		return true
	}
	for _, v := range d.ExternalIDs {
		if v == key {
			return true
		}
	}
	return false
}
