package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"time"

	"shaka-fleet/agent/internal/config"
	"shaka-fleet/agent/internal/state"
)

// Heartbeat is the periodic check-in body.
type Heartbeat struct {
	MachineID       string                     `json:"machineId"`
	Name            string                     `json:"name,omitempty"`
	Status          string                     `json:"status"`
	Location        string                     `json:"location,omitempty"`
	FirmwareVersion string                     `json:"firmwareVersion,omitempty"`
	AgentVersion    string                     `json:"agentVersion"`
	Uptime          string                     `json:"uptime"`
	Sensors         map[string]json.RawMessage `json:"sensors,omitempty"`
	Meta            Meta                       `json:"meta"`
	ExternalIDs     map[string]string          `json:"externalIds,omitempty"`
}

type Meta struct {
	IP       string `json:"ip,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	VendPort int    `json:"vend_port"`
}

type Command struct {
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	QueuedAt time.Time       `json:"queuedAt"`
}

type Ack struct {
	OK         bool      `json:"ok"`
	MachineID  string    `json:"machineId"`
	ServerTime time.Time `json:"serverTime"`
	Commands   []Command `json:"commands"`
}

const AgentVersion = "shaka-agent/1.0"

// Snapshot builds a heartbeat from the config and the machine state.
func Snapshot(cfg config.AppConfig, m *state.Machine) Heartbeat {
	host, _ := os.Hostname()
	temp, _ := json.Marshal(4.0 + rand.Float64())
	door, _ := json.Marshal("closed")
	hb := Heartbeat{
		MachineID:       cfg.MachineID,
		Name:            cfg.Name,
		Status:          "online",
		Location:        cfg.Location,
		FirmwareVersion: cfg.FirmwareVersion,
		AgentVersion:    AgentVersion,
		Uptime:          m.Uptime().Truncate(time.Second).String(),
		Sensors:         map[string]json.RawMessage{"temperature": temp, "door": door},
		Meta:            Meta{IP: localIP(), Hostname: host, VendPort: cfg.VendPort},
	}
	if cfg.ReaderID != "" {
		hb.ExternalIDs = map[string]string{"stripeReaderId": cfg.ReaderID}
	}
	return hb
}

func localIP() string {
	conn, err := net.Dial("udp", "192.0.2.1:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if a, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return a.IP.String()
	}
	return ""
}

// Client posts heartbeats over plain HTTP when no live channel is used.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) Post(ctx context.Context, hb Heartbeat) (Ack, error) {
	var ack Ack
	body, err := json.Marshal(hb)
	if err != nil {
		return ack, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/heartbeat", bytes.NewReader(body))
	if err != nil {
		return ack, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return ack, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode != http.StatusOK {
		return ack, fmt.Errorf("heartbeat rejected: %s %s", resp.Status, bytes.TrimSpace(data))
	}
	return ack, json.Unmarshal(data, &ack)
}
