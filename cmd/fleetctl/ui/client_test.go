package ui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
	})
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("GET /admin/devices", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"vm-1","status":"online","live":true,"networkInfo":{"sourceIp":"10.0.0.5","vendPort":3001}}]`))
	}))
	mux.HandleFunc("POST /admin/command", authed(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DeviceID string          `json:"deviceid"`
			Kind     string          `json:"kind"`
			Payload  json.RawMessage `json:"payload"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{"deviceid": req.DeviceID, "kind": req.Kind, "transport": "queued"})
	}))
	mux.HandleFunc("POST /logout", authed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSession_LoginAndList(t *testing.T) {
	srv := newFakeBackend(t)
	s := NewSession(srv.URL+"/", time.Second)

	require.NoError(t, s.Login("admin", "secret"))
	assert.Equal(t, "tok", s.Token)

	devs, err := s.Devices()
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, "vm-1", devs[0].ID)
	assert.True(t, devs[0].Live)
	assert.Equal(t, 3001, devs[0].Network.VendPort)

	require.NoError(t, s.Logout())
	assert.Empty(t, s.Token)
}

func TestSession_LoginFailureCarriesServerError(t *testing.T) {
	srv := newFakeBackend(t)
	s := NewSession(srv.URL, time.Second)

	err := s.Login("admin", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")
	assert.Empty(t, s.Token)
}

func TestSession_Deliver(t *testing.T) {
	srv := newFakeBackend(t)
	s := NewSession(srv.URL, time.Second)
	require.NoError(t, s.Login("admin", "secret"))

	res, err := s.Deliver("vm-1", "sync-products", json.RawMessage(`{"products":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "queued", res.Transport)
	assert.Equal(t, "sync-products", res.Kind)
}

func TestCommandDefs_BuildPayloads(t *testing.T) {
	sync := availableCommands[0]
	_, err := sync.Build("vm-1", map[string]string{"products": "not json"})
	assert.Error(t, err)
	raw, err := sync.Build("vm-1", map[string]string{"products": `[{"id":"a"}]`})
	require.NoError(t, err)
	assert.JSONEq(t, `{"products":[{"id":"a"}]}`, string(raw))

	term := availableCommands[1]
	raw, err = term.Build("vm-1", map[string]string{"readerId": "tmr_1", "simulation": "true"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"config":{"readerId":"tmr_1","machineId":"vm-1","simulation":true}}`, string(raw))
	_, err = term.Build("vm-1", map[string]string{"readerId": "tmr_1", "simulation": "maybe"})
	assert.Error(t, err)
}
