package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Session talks to the fleet backend's admin API with a bearer token.
type Session struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewSession(baseURL string, timeout time.Duration) *Session {
	return &Session{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: timeout}}
}

// Device mirrors one row of GET /admin/devices.
type Device struct {
	ID              string                     `json:"id"`
	DisplayName     string                     `json:"displayName"`
	Status          string                     `json:"status"`
	Location        string                     `json:"location"`
	Uptime          string                     `json:"uptime"`
	FirstSeenAt     time.Time                  `json:"firstSeenAt"`
	LastSeenAt      time.Time                  `json:"lastSeenAt"`
	FirmwareVersion string                     `json:"firmwareVersion"`
	AgentVersion    string                     `json:"agentVersion"`
	Sensors         map[string]json.RawMessage `json:"sensors"`
	Network         struct {
		SourceIP   string `json:"sourceIp"`
		DeclaredIP string `json:"declaredIp"`
		VendPort   int    `json:"vendPort"`
	} `json:"networkInfo"`
	Pending     map[string]json.RawMessage `json:"pendingCommands"`
	ExternalIDs map[string]string          `json:"externalCorrelationIds"`
	Online      bool                       `json:"online"`
	Live        bool                       `json:"live"`
	Stale       bool                       `json:"stale"`
}

type Delivery struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Transport string    `json:"transport"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"createdAt"`
}

type CommandResult struct {
	DeviceID  string `json:"deviceid"`
	Kind      string `json:"kind"`
	Transport string `json:"transport"`
	Error     string `json:"error"`
}

func (s *Session) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (s *Session) Login(username, password string) error {
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := s.do(http.MethodPost, "/login", map[string]string{"username": username, "password": password}, &tok); err != nil {
		return err
	}
	s.Token = tok.AccessToken
	return nil
}

func (s *Session) Logout() error {
	if s.Token == "" {
		return nil
	}
	err := s.do(http.MethodPost, "/logout", nil, nil)
	s.Token = ""
	return err
}

func (s *Session) Devices() ([]Device, error) {
	var out []Device
	return out, s.do(http.MethodGet, "/admin/devices", nil, &out)
}

func (s *Session) Device(id string) (Device, error) {
	var out Device
	return out, s.do(http.MethodGet, "/admin/devices/"+url.PathEscape(id), nil, &out)
}

func (s *Session) DeleteDevice(id string) error {
	return s.do(http.MethodDelete, "/admin/devices/"+url.PathEscape(id), nil, nil)
}

func (s *Session) Deliveries(id string) ([]Delivery, error) {
	var out []Delivery
	return out, s.do(http.MethodGet, "/admin/deliveries?limit=20&deviceid="+url.QueryEscape(id), nil, &out)
}

func (s *Session) Deliver(id, kind string, payload json.RawMessage) (CommandResult, error) {
	var out CommandResult
	req := map[string]any{"deviceid": id, "kind": kind, "payload": payload}
	return out, s.do(http.MethodPost, "/admin/command", req, &out)
}
