package socket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shaka-fleet/backend/app/dto"
	jwtutil "shaka-fleet/backend/app/jwt"
	"shaka-fleet/backend/app/models"
	"shaka-fleet/backend/app/registry"
	"shaka-fleet/backend/app/services"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	hub *Hub
	reg *registry.Registry
	srv *httptest.Server
}

func newHarness(t *testing.T, signer *jwtutil.Signer, opts Options) *harness {
	t.Helper()
	reg := registry.New()
	var tokens TokenVerifier
	if signer != nil {
		tokens = signer
	}
	hub := NewHub(services.NewHeartbeatService(reg), tokens, opts)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(ws, dto.SourceInfo{RemoteIP: "127.0.0.1"})
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &harness{hub: hub, reg: reg, srv: srv}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func auth(t *testing.T, ws *websocket.Conn, id string) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "auth", "machineId": id}))
	m := readFrame(t, ws)
	require.Equal(t, "auth-ok", m["type"])
	require.Equal(t, id, m["machineId"])
}

func TestAuthRegistersDevice(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ws := h.dial(t)
	auth(t, ws, "m1")

	assert.True(t, h.hub.Online("m1"))
	assert.Equal(t, []string{"m1"}, h.hub.OnlineIDs())
	assert.True(t, h.reg.Exists("m1"))

	assert.True(t, h.hub.Push("m1", []byte(`{"type":"sync-products","products":[]}`)))
	m := readFrame(t, ws)
	assert.Equal(t, "sync-products", m["type"])
}

func TestFirstFrameMustBeAuth(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ws := h.dial(t)
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "heartbeat", "data": map[string]any{}}))
	m := readFrame(t, ws)
	assert.Equal(t, "error", m["type"])

	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "server closes after a rejected auth")
	assert.Empty(t, h.hub.OnlineIDs())
}

func TestAuthMissingID(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ws := h.dial(t)
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "auth"}))
	assert.Equal(t, "error", readFrame(t, ws)["type"])
}

func TestAuthTokenDeviceMismatch(t *testing.T) {
	signer := &jwtutil.Signer{Secret: []byte("k"), ExpMin: 5}
	h := newHarness(t, signer, Options{})
	tok, err := signer.SignDevice("m2")
	require.NoError(t, err)

	ws := h.dial(t)
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "auth", "machineId": "m1", "token": tok}))
	assert.Equal(t, "error", readFrame(t, ws)["type"])

	ws = h.dial(t)
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "auth", "machineId": "m2", "token": tok}))
	assert.Equal(t, "auth-ok", readFrame(t, ws)["type"])
}

func TestRequireToken(t *testing.T) {
	h := newHarness(t, nil, Options{RequireToken: true})
	ws := h.dial(t)
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "auth", "machineId": "m1"}))
	assert.Equal(t, "error", readFrame(t, ws)["type"])
}

func TestPendingFlushedAfterAuth(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.reg.Upsert("m1", func(d *models.Device) {
		registry.Queue(d, models.KindSyncProducts, json.RawMessage(`{"products":[{"id":"p1"}]}`), time.Now())
	})
	ws := h.dial(t)
	auth(t, ws, "m1")

	m := readFrame(t, ws)
	assert.Equal(t, "sync-products", m["type"])
	assert.Len(t, m["products"], 1)

	d, _ := h.reg.Get("m1")
	assert.Empty(t, d.Pending)
}

func TestHeartbeatOverLive(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ws := h.dial(t)
	auth(t, ws, "m1")

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "heartbeat", "data": map[string]any{"machineId": "m1", "status": "ok", "sensors": map[string]any{"temp": 3.5}}}))
	m := readFrame(t, ws)
	assert.Equal(t, "heartbeat-ack", m["type"])
	assert.Equal(t, true, m["ok"])

	d, _ := h.reg.Get("m1")
	assert.Equal(t, "ok", d.Status)
	assert.Equal(t, "127.0.0.1", d.Network.SourceIP)

	// malformed and unknown frames are ignored, the channel stays up
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{nope")))
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "mystery"}))
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "sync-ack", "status": "ok", "count": 2}))
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "heartbeat"}))
	assert.Equal(t, "heartbeat-ack", readFrame(t, ws)["type"])
	assert.True(t, h.hub.Online("m1"))
}

func TestDuplicateAuthReplacesOldChannel(t *testing.T) {
	h := newHarness(t, nil, Options{})
	first := h.dial(t)
	auth(t, first, "m1")
	second := h.dial(t)
	auth(t, second, "m1")

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err, "old channel is closed")

	assert.True(t, h.hub.Online("m1"))
	assert.True(t, h.hub.Push("m1", []byte(`{"type":"terminal-config"}`)))
	assert.Equal(t, "terminal-config", readFrame(t, second)["type"])
}

func TestDisconnectUnregisters(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ws := h.dial(t)
	auth(t, ws, "m1")
	require.NoError(t, ws.Close())

	assert.Eventually(t, func() bool { return !h.hub.Online("m1") }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, h.hub.Push("m1", []byte(`{}`)))
}

func TestSweepClosesSilentChannel(t *testing.T) {
	h := newHarness(t, nil, Options{WriteTimeout: time.Second})
	ws := h.dial(t)
	auth(t, ws, "m1")

	// the client stops reading, so pings go unanswered
	h.hub.sweep()
	assert.True(t, h.hub.Online("m1"))
	h.hub.sweep()
	assert.False(t, h.hub.Online("m1"))
	assert.False(t, h.hub.Push("m1", []byte(`{}`)))
}

func TestSweepKeepsResponsiveChannel(t *testing.T) {
	h := newHarness(t, nil, Options{WriteTimeout: time.Second})
	ws := h.dial(t)
	auth(t, ws, "m1")
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 3; i++ {
		h.hub.sweep()
		c := h.hub.lookup("m1")
		require.NotNil(t, c)
		assert.Eventually(t, func() bool { return !c.unconfirmed.Load() }, 2*time.Second, 10*time.Millisecond)
	}
	assert.True(t, h.hub.Online("m1"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "closed", StateClosed.String())
}

func TestHeartbeatOverLivePushesQueuedCommands(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ws := h.dial(t)
	auth(t, ws, "m1")

	// queued while the channel was already up, e.g. after a failed direct push
	h.reg.Update("m1", func(d *models.Device) {
		registry.Queue(d, models.KindSyncProducts, json.RawMessage(`{"products":[{"id":"a"}]}`), time.Now())
	})

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "heartbeat"}))
	assert.Equal(t, "heartbeat-ack", readFrame(t, ws)["type"])
	m := readFrame(t, ws)
	assert.Equal(t, "sync-products", m["type"])
	assert.Len(t, m["products"], 1)

	d, _ := h.reg.Get("m1")
	assert.Empty(t, d.Pending)
}

func TestAuthOKPrecedesPushedFrames(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ws := h.dial(t)

	pushed := make(chan struct{})
	go func() {
		defer close(pushed)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if h.hub.Push("m1", []byte(`{"type":"terminal-config"}`)) {
				return
			}
		}
	}()

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "auth", "machineId": "m1"}))
	assert.Equal(t, "auth-ok", readFrame(t, ws)["type"])
	<-pushed
	assert.Equal(t, "terminal-config", readFrame(t, ws)["type"])
}
