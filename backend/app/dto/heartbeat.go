package dto

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Heartbeat is the body a device posts on its periodic check-in. Every
// telemetry field keeps presence so a partial heartbeat never clobbers
// values it did not mention.
type Heartbeat struct {
	MachineID string `json:"machineId"`
	ID        string `json:"id"`
	DeviceID  string `json:"deviceId"`

	Name            Optional[string]                     `json:"name"`
	Status          Optional[string]                     `json:"status"`
	Location        Optional[string]                     `json:"location"`
	Uptime          Optional[string]                     `json:"uptime"`
	Firmware        Optional[string]                     `json:"firmware"`
	FirmwareVersion Optional[string]                     `json:"firmwareVersion"`
	AgentVersion    Optional[string]                     `json:"agentVersion"`
	Sensors         Optional[map[string]json.RawMessage] `json:"sensors"`
	Inventory       Optional[json.RawMessage]            `json:"inventory"`
	Proximity       Optional[json.RawMessage]            `json:"proximity"`
	Snapshots       Optional[json.RawMessage]            `json:"snapshots"`
	Meta            Optional[json.RawMessage]            `json:"meta"`
	ExternalIDs     Optional[map[string]string]          `json:"externalIds"`
}

// Identity returns the device id using the first populated alias.
func (h Heartbeat) Identity() string {
	for _, id := range []string{h.MachineID, h.DeviceID, h.ID} {
		if s := strings.TrimSpace(id); s != "" {
			return s
		}
	}
	return ""
}

// FirmwareField folds the two firmware aliases, preferring "firmware".
func (h Heartbeat) FirmwareField() Optional[string] {
	if h.Firmware.Set {
		return h.Firmware
	}
	return h.FirmwareVersion
}

// HeartbeatMeta is the subset of "meta" the backend reads to reach the device.
type HeartbeatMeta struct {
	IP       string          `json:"ip"`
	PublicIP string          `json:"publicIp"`
	Hostname string          `json:"hostname"`
	VendPort json.RawMessage `json:"vend_port"`
}

// Port parses vend_port which agents send either as a number or a string.
func (m HeartbeatMeta) Port() int {
	s := strings.Trim(strings.TrimSpace(string(m.VendPort)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	p, err := strconv.Atoi(s)
	if err != nil || p <= 0 || p > 65535 {
		return 0
	}
	return p
}

// SourceInfo is what the transport observed about the request origin.
type SourceInfo struct {
	ForwardedFor string
	RemoteIP     string
	ReceivedAt   time.Time
}

type CommandOut struct {
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	QueuedAt time.Time       `json:"queuedAt"`
}

type HeartbeatAck struct {
	OK         bool         `json:"ok"`
	MachineID  string       `json:"machineId"`
	ServerTime time.Time    `json:"serverTime"`
	Commands   []CommandOut `json:"commands"`
}

// SyncProductsResponse answers the pull endpoint used by agents that poll.
type SyncProductsResponse struct {
	Pending  bool            `json:"pending"`
	Products json.RawMessage `json:"products,omitempty"`
	QueuedAt *time.Time      `json:"queuedAt,omitempty"`
}
