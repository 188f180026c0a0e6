package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"shaka-fleet/backend/app/apperr"
	"shaka-fleet/backend/app/dto"
	"shaka-fleet/backend/app/models"
	"shaka-fleet/backend/app/registry"
	"shaka-fleet/backend/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLive struct {
	mu     sync.Mutex
	online map[string]bool
	frames map[string][][]byte
}

func newFakeLive() *fakeLive {
	return &fakeLive{online: map[string]bool{}, frames: map[string][][]byte{}}
}

func (f *fakeLive) Push(id string, frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[id] {
		return false
	}
	f.frames[id] = append(f.frames[id], frame)
	return true
}

func (f *fakeLive) Online(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[id]
}

type postCall struct {
	URL  string
	Body []byte
}

type fakePoster struct {
	mu    sync.Mutex
	err   error
	calls []postCall
}

func (f *fakePoster) PostJSON(_ context.Context, url string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, postCall{URL: url, Body: body})
	return f.err
}

type memDeliveries struct {
	mu   sync.Mutex
	recs []models.DeliveryRecord
}

func (m *memDeliveries) Create(r *models.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, *r)
	return nil
}

type memEvents struct {
	mu  sync.Mutex
	evs []models.WebhookEvent
}

func (m *memEvents) Create(e *models.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evs = append(m.evs, *e)
	return nil
}

func testDispatchConfig() config.Dispatch {
	return config.Dispatch{
		Timeout:         time.Second,
		DefaultVendPort: 5001,
		Routes: map[string]config.Route{
			"sync-products":   {Port: 3000, Path: "/api/local-products"},
			"terminal-config": {Path: "/stripe/config"},
		},
	}
}

func heartbeat(t *testing.T, body string) dto.Heartbeat {
	t.Helper()
	var hb dto.Heartbeat
	require.NoError(t, json.Unmarshal([]byte(body), &hb))
	return hb
}

func TestIngestValidation(t *testing.T) {
	s := NewHeartbeatService(registry.New())
	for _, id := range []string{"", "   ", "bad\x00id", string(make([]byte, 200))} {
		_, err := s.Ingest(id, dto.Heartbeat{}, dto.SourceInfo{})
		assert.True(t, apperr.IsValidation(err), "%q", id)
	}
}

func TestIngestCreatesAndMerges(t *testing.T) {
	reg := registry.New()
	s := NewHeartbeatService(reg)

	ack, err := s.Ingest("m1", heartbeat(t, `{"status":"ok","sensors":{"temp":4},"meta":{"ip":"192.168.1.5","vend_port":5001}}`), dto.SourceInfo{RemoteIP: "10.1.1.1"})
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Equal(t, "m1", ack.MachineID)
	assert.Empty(t, ack.Commands)

	d, ok := reg.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "ok", d.Status)
	assert.Equal(t, "10.1.1.1", d.Network.Address())
	assert.Equal(t, 5001, d.Network.VendPort)
	assert.Equal(t, "0d 0h 0m", d.Uptime)
	first := d.FirstSeenAt

	_, err = s.Ingest("m1", heartbeat(t, `{"uptime":"1d 2h 3m"}`), dto.SourceInfo{RemoteIP: "10.1.1.2"})
	require.NoError(t, err)
	d, _ = reg.Get("m1")
	assert.Equal(t, "ok", d.Status)
	assert.Equal(t, "1d 2h 3m", d.Uptime)
	assert.Equal(t, first, d.FirstSeenAt)
	assert.False(t, d.LastSeenAt.Before(first))
	assert.Equal(t, "10.1.1.2", d.Network.SourceIP)
}

func TestIngestDrainsPendingOnce(t *testing.T) {
	reg := registry.New()
	hs := NewHeartbeatService(reg)
	disp := NewDispatcher(reg, newFakeLive(), nil, nil, testDispatchConfig())

	_, err := hs.Ingest("m1", dto.Heartbeat{}, dto.SourceInfo{})
	require.NoError(t, err)
	_, err = disp.Deliver(context.Background(), "m1", models.KindSyncProducts, json.RawMessage(`{"products":[{"id":"a"}]}`))
	require.NoError(t, err)

	ack, err := hs.Ingest("m1", dto.Heartbeat{}, dto.SourceInfo{})
	require.NoError(t, err)
	require.Len(t, ack.Commands, 1)
	assert.Equal(t, "sync-products", ack.Commands[0].Kind)
	assert.JSONEq(t, `{"products":[{"id":"a"}]}`, string(ack.Commands[0].Payload))

	ack, err = hs.Ingest("m1", dto.Heartbeat{}, dto.SourceInfo{})
	require.NoError(t, err)
	assert.Empty(t, ack.Commands)
}

func TestDrainKind(t *testing.T) {
	reg := registry.New()
	hs := NewHeartbeatService(reg)

	_, _, err := hs.DrainKind("ghost", models.KindSyncProducts)
	assert.True(t, apperr.IsNotFound(err))

	reg.Upsert("m1", func(d *models.Device) {
		registry.Queue(d, models.KindSyncProducts, json.RawMessage(`{"products":[]}`), time.Now())
		registry.Queue(d, models.KindTerminalConfig, json.RawMessage(`{}`), time.Now())
	})
	cmd, ok, err := hs.DrainKind("m1", models.KindSyncProducts)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.KindSyncProducts, cmd.Kind)

	_, ok, _ = hs.DrainKind("m1", models.KindSyncProducts)
	assert.False(t, ok)
	d, _ := reg.Get("m1")
	assert.Contains(t, d.Pending, models.KindTerminalConfig)
}

func TestRequeueKeepsNewer(t *testing.T) {
	reg := registry.New()
	hs := NewHeartbeatService(reg)
	reg.Upsert("m1", func(d *models.Device) {
		registry.Queue(d, models.KindSyncProducts, json.RawMessage(`{"v":2}`), time.Now())
	})
	hs.Requeue("m1", models.PendingCommand{Kind: models.KindSyncProducts, Payload: json.RawMessage(`{"v":1}`)})
	hs.Requeue("m1", models.PendingCommand{Kind: models.KindTerminalConfig, Payload: json.RawMessage(`{"v":1}`)})
	d, _ := reg.Get("m1")
	assert.JSONEq(t, `{"v":2}`, string(d.Pending[models.KindSyncProducts].Payload))
	assert.Contains(t, d.Pending, models.KindTerminalConfig)
}

func TestDeliverValidation(t *testing.T) {
	reg := registry.New()
	disp := NewDispatcher(reg, newFakeLive(), nil, nil, testDispatchConfig())
	ctx := context.Background()

	_, err := disp.Deliver(ctx, "", models.KindSyncProducts, json.RawMessage(`{}`))
	assert.True(t, apperr.IsValidation(err))
	_, err = disp.Deliver(ctx, "m1", "reboot", json.RawMessage(`{}`))
	assert.True(t, apperr.IsValidation(err))
	_, err = disp.Deliver(ctx, "m1", models.KindSyncProducts, json.RawMessage(`{nope`))
	assert.True(t, apperr.IsValidation(err))
	_, err = disp.Deliver(ctx, "m1", models.KindSyncProducts, json.RawMessage(`{}`))
	assert.True(t, apperr.IsNotFound(err))
}

func TestDeliverPrefersLive(t *testing.T) {
	reg := registry.New()
	reg.Upsert("m1", nil)
	live := newFakeLive()
	live.online["m1"] = true
	poster := &fakePoster{}
	recs := &memDeliveries{}
	disp := NewDispatcher(reg, live, poster, recs, testDispatchConfig())

	res, err := disp.Deliver(context.Background(), "m1", models.KindSyncProducts, json.RawMessage(`{"products":[1]}`))
	require.NoError(t, err)
	assert.Equal(t, TransportLive, res.Transport)
	require.Len(t, live.frames["m1"], 1)
	assert.JSONEq(t, `{"type":"sync-products","products":[1]}`, string(live.frames["m1"][0]))
	assert.Empty(t, poster.calls)

	d, _ := reg.Get("m1")
	assert.Empty(t, d.Pending)
	require.Len(t, recs.recs, 1)
	assert.Equal(t, TransportLive, recs.recs[0].Transport)
}

func TestDeliverDirectHTTP(t *testing.T) {
	reg := registry.New()
	hs := NewHeartbeatService(reg)
	_, err := hs.Ingest("m1", heartbeat(t, `{"meta":{"vend_port":5005}}`), dto.SourceInfo{RemoteIP: "10.0.0.7"})
	require.NoError(t, err)

	poster := &fakePoster{}
	disp := NewDispatcher(reg, newFakeLive(), poster, nil, testDispatchConfig())

	res, err := disp.Deliver(context.Background(), "m1", models.KindSyncProducts, json.RawMessage(`{"products":[]}`))
	require.NoError(t, err)
	assert.Equal(t, TransportDirect, res.Transport)

	res, err = disp.Deliver(context.Background(), "m1", models.KindTerminalConfig, json.RawMessage(`{"config":{"readerId":"tmr_X"}}`))
	require.NoError(t, err)
	assert.Equal(t, TransportDirect, res.Transport)

	require.Len(t, poster.calls, 2)
	assert.Equal(t, "http://10.0.0.7:3000/api/local-products", poster.calls[0].URL)
	assert.Equal(t, "http://10.0.0.7:5005/stripe/config", poster.calls[1].URL)
	assert.JSONEq(t, `{"config":{"readerId":"tmr_X"}}`, string(poster.calls[1].Body))

	d, _ := reg.Get("m1")
	assert.Empty(t, d.Pending)
	assert.Equal(t, "tmr_X", d.ExternalIDs["stripeReaderId"])
}

func TestDeliverQueuesWhenUnreachable(t *testing.T) {
	reg := registry.New()
	hs := NewHeartbeatService(reg)
	_, err := hs.Ingest("m1", dto.Heartbeat{}, dto.SourceInfo{RemoteIP: "10.0.0.7"})
	require.NoError(t, err)

	poster := &fakePoster{err: apperr.Transport("post", "x", errors.New("connection refused"))}
	recs := &memDeliveries{}
	disp := NewDispatcher(reg, newFakeLive(), poster, recs, testDispatchConfig())

	res, err := disp.Deliver(context.Background(), "m1", models.KindSyncProducts, json.RawMessage(`{"products":[1]}`))
	require.NoError(t, err)
	assert.Equal(t, TransportQueued, res.Transport)
	assert.Contains(t, res.Error, "connection refused")

	res, err = disp.Deliver(context.Background(), "m1", models.KindSyncProducts, json.RawMessage(`{"products":[2]}`))
	require.NoError(t, err)
	assert.Equal(t, TransportQueued, res.Transport)

	d, _ := reg.Get("m1")
	require.Contains(t, d.Pending, models.KindSyncProducts)
	assert.JSONEq(t, `{"products":[2]}`, string(d.Pending[models.KindSyncProducts].Payload))
	assert.Len(t, recs.recs, 2)
	assert.Contains(t, recs.recs[0].LastError, "connection refused")
}

func TestDeliverQueuesWithoutAddress(t *testing.T) {
	reg := registry.New()
	reg.Upsert("m1", nil)
	poster := &fakePoster{}
	disp := NewDispatcher(reg, newFakeLive(), poster, nil, testDispatchConfig())

	res, err := disp.Deliver(context.Background(), "m1", models.KindTerminalConfig, json.RawMessage(`{"config":{}}`))
	require.NoError(t, err)
	assert.Equal(t, TransportQueued, res.Transport)
	assert.Empty(t, poster.calls)
}

func TestDeliverSerializedPerDevice(t *testing.T) {
	reg := registry.New()
	reg.Upsert("m1", nil)
	disp := NewDispatcher(reg, newFakeLive(), nil, nil, testDispatchConfig())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := disp.Deliver(context.Background(), "m1", models.KindSyncProducts, json.RawMessage(`{"products":[]}`))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	d, _ := reg.Get("m1")
	assert.Len(t, d.Pending, 1)
	assert.Empty(t, disp.locks.locks)
}

func testWebhookRouter(reg *registry.Registry, fwd Forwarder, rec WebhookRecorder) *WebhookRouter {
	return NewWebhookRouter(reg, fwd, rec, config.Webhook{Path: "/stripe/webhook", AllowedEvents: config.DefaultAllowedEvents}, 5001)
}

func TestWebhookForwardsByReaderID(t *testing.T) {
	reg := registry.New()
	hs := NewHeartbeatService(reg)
	_, _ = hs.Ingest("m1", heartbeat(t, `{"externalIds":{"stripeReaderId":"tmr_A"}}`), dto.SourceInfo{RemoteIP: "10.0.0.1"})
	_, _ = hs.Ingest("m2", heartbeat(t, `{"externalIds":{"stripeReaderId":"tmr_B"}}`), dto.SourceInfo{RemoteIP: "10.0.0.2"})

	fwd := &fakePoster{}
	evs := &memEvents{}
	w := testWebhookRouter(reg, fwd, evs)

	raw := json.RawMessage(`{"id":"evt_1","type":"terminal.reader.action_succeeded","data":{"object":{"id":"tmr_B"}}}`)
	out := w.Route(context.Background(), "", raw)
	assert.True(t, out.Forwarded)
	assert.Equal(t, "m2", out.DeviceID)
	assert.False(t, out.Fallback)

	require.Len(t, fwd.calls, 1)
	assert.Equal(t, "http://10.0.0.2:5001/stripe/webhook", fwd.calls[0].URL)
	var body dto.ForwardedWebhook
	require.NoError(t, json.Unmarshal(fwd.calls[0].Body, &body))
	assert.Equal(t, "terminal.reader.action_succeeded", body.EventType)
	assert.JSONEq(t, string(raw), string(body.Payload))

	require.Len(t, evs.evs, 1)
	assert.True(t, evs.evs[0].Forwarded)
	assert.Equal(t, "tmr_B", evs.evs[0].CorrelationKey)
}

func TestWebhookPaymentIntentCorrelation(t *testing.T) {
	reg := registry.New()
	hs := NewHeartbeatService(reg)
	_, _ = hs.Ingest("m1", dto.Heartbeat{}, dto.SourceInfo{RemoteIP: "10.0.0.1"})
	_, _ = hs.Ingest("m2", heartbeat(t, `{"externalIds":{"stripeReaderId":"tmr_B"}}`), dto.SourceInfo{RemoteIP: "10.0.0.2"})
	fwd := &fakePoster{}
	w := testWebhookRouter(reg, fwd, nil)

	out := w.Route(context.Background(), "payment_intent.canceled",
		json.RawMessage(`{"type":"payment_intent.canceled","data":{"object":{"id":"pi_1","metadata":{"machineId":"m1"}}}}`))
	assert.True(t, out.Forwarded)
	assert.Equal(t, "m1", out.DeviceID)

	out = w.Route(context.Background(), "payment_intent.amount_capturable_updated",
		json.RawMessage(`{"data":{"object":{"id":"pi_2","latest_charge":{"payment_method_details":{"card_present":{"reader":"tmr_B"}}}}}}`))
	assert.True(t, out.Forwarded)
	assert.Equal(t, "m2", out.DeviceID)
}

func TestWebhookSoleDeviceFallback(t *testing.T) {
	reg := registry.New()
	hs := NewHeartbeatService(reg)
	_, _ = hs.Ingest("only", dto.Heartbeat{}, dto.SourceInfo{RemoteIP: "10.0.0.9"})
	fwd := &fakePoster{}
	w := testWebhookRouter(reg, fwd, nil)

	out := w.Route(context.Background(), "terminal.reader.action_failed",
		json.RawMessage(`{"data":{"object":{"id":"tmr_unknown"}}}`))
	assert.True(t, out.Forwarded)
	assert.True(t, out.Fallback)
	assert.Equal(t, "only", out.DeviceID)
}

func TestWebhookDrops(t *testing.T) {
	reg := registry.New()
	fwd := &fakePoster{}
	evs := &memEvents{}
	w := testWebhookRouter(reg, fwd, evs)
	ctx := context.Background()

	out := w.Route(ctx, "terminal.reader.action_succeeded", json.RawMessage(`{"data":{"object":{"id":"tmr_A"}}}`))
	assert.False(t, out.Forwarded)
	assert.Equal(t, "no device for event", out.Reason)

	out = w.Route(ctx, "customer.created", json.RawMessage(`{"data":{"object":{}}}`))
	assert.False(t, out.Forwarded)
	assert.Equal(t, "event type not handled", out.Reason)

	out = w.Route(ctx, "", json.RawMessage(`not json`))
	assert.False(t, out.Forwarded)

	reg.Upsert("m1", nil)
	reg.Upsert("m2", nil)
	out = w.Route(ctx, "terminal.reader.action_succeeded", json.RawMessage(`{"data":{"object":{"id":"tmr_A"}}}`))
	assert.False(t, out.Forwarded, "ambiguous without exact match")

	out = w.Route(ctx, "terminal.reader.action_succeeded", json.RawMessage(`{"data":{"object":{"id":"m1"}}}`))
	assert.False(t, out.Forwarded)
	assert.Equal(t, "device has no known address", out.Reason)

	assert.Empty(t, fwd.calls)
	assert.Len(t, evs.evs, 5)
}

func TestWebhookForwardFailure(t *testing.T) {
	reg := registry.New()
	hs := NewHeartbeatService(reg)
	_, _ = hs.Ingest("m1", dto.Heartbeat{}, dto.SourceInfo{RemoteIP: "10.0.0.1"})
	fwd := &fakePoster{err: errors.New("timeout")}
	w := testWebhookRouter(reg, fwd, nil)

	out := w.Route(context.Background(), "terminal.reader.action_updated", json.RawMessage(`{"data":{"object":{"id":"m1"}}}`))
	assert.False(t, out.Forwarded)
	assert.Equal(t, "m1", out.DeviceID)
	assert.Equal(t, "timeout", out.Reason)
}

func TestVerifyStripeSignature(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1_700_000_000, 0)
	header := "t=1700000000,v1=" + signForTest(body, "whsec", "1700000000")

	assert.NoError(t, VerifyStripeSignature(body, header, "whsec", 5*time.Minute, now))
	assert.ErrorIs(t, VerifyStripeSignature(body, header, "other", 5*time.Minute, now), ErrSignatureInvalid)
	assert.ErrorIs(t, VerifyStripeSignature(body, header, "whsec", 5*time.Minute, now.Add(time.Hour)), ErrSignatureExpired)
	assert.ErrorIs(t, VerifyStripeSignature(body, "", "whsec", 0, now), ErrSignatureMissing)
	assert.ErrorIs(t, VerifyStripeSignature([]byte(`{}`), header, "whsec", 0, now), ErrSignatureInvalid)
}

func TestDeviceServiceFlags(t *testing.T) {
	reg := registry.New()
	live := newFakeLive()
	live.online["m2"] = true
	reg.Upsert("m1", func(d *models.Device) { d.LastSeenAt = time.Now().Add(-time.Hour) })
	reg.Upsert("m2", func(d *models.Device) { d.LastSeenAt = time.Now().Add(-time.Hour) })
	reg.Upsert("m3", nil)
	s := NewDeviceService(reg, live, time.Minute)

	list := s.ListAll()
	require.Len(t, list, 3)
	assert.False(t, list[0].Online)
	assert.True(t, list[0].Stale)
	assert.True(t, list[1].Online)
	assert.True(t, list[1].Live)
	assert.True(t, list[2].Online)
	assert.False(t, list[2].Stale)

	_, err := s.Find("ghost")
	assert.True(t, apperr.IsNotFound(err))
	require.NoError(t, s.Remove("m1"))
	assert.True(t, apperr.IsNotFound(s.Remove("m1")))
}

func TestFleetScenario(t *testing.T) {
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	reg := registry.New().WithClock(now)
	hs := NewHeartbeatService(reg)
	hs.now = now

	_, err := hs.Ingest("dev-1", heartbeat(t, `{"sensors":{"doorOpen":true}}`), dto.SourceInfo{})
	require.NoError(t, err)
	d, _ := reg.Get("dev-1")
	assert.Equal(t, d.FirstSeenAt, d.LastSeenAt)

	clock = clock.Add(time.Minute)
	_, err = hs.Ingest("dev-1", heartbeat(t, `{"sensors":{"temp":21}}`), dto.SourceInfo{})
	require.NoError(t, err)
	d, _ = reg.Get("dev-1")
	assert.Equal(t, map[string]json.RawMessage{"doorOpen": json.RawMessage("true"), "temp": json.RawMessage("21")}, d.Sensors)
	assert.Equal(t, clock, d.LastSeenAt)
	assert.NotEqual(t, d.FirstSeenAt, d.LastSeenAt)

	// same payload again leaves telemetry untouched
	before := d
	_, err = hs.Ingest("dev-1", heartbeat(t, `{"sensors":{"temp":21}}`), dto.SourceInfo{})
	require.NoError(t, err)
	d, _ = reg.Get("dev-1")
	assert.Equal(t, before.Sensors, d.Sensors)
	assert.Equal(t, before.Status, d.Status)

	// no live channel, no address: the command waits for the next heartbeat
	poster := &fakePoster{}
	disp := NewDispatcher(reg, newFakeLive(), poster, &memDeliveries{}, testDispatchConfig())
	res, err := disp.Deliver(context.Background(), "dev-1", models.KindSyncProducts, json.RawMessage(`"X"`))
	require.NoError(t, err)
	assert.Equal(t, TransportQueued, res.Transport)
	assert.Empty(t, poster.calls)

	ack, err := hs.Ingest("dev-1", dto.Heartbeat{}, dto.SourceInfo{})
	require.NoError(t, err)
	require.Len(t, ack.Commands, 1)
	assert.Equal(t, string(models.KindSyncProducts), ack.Commands[0].Kind)
	assert.JSONEq(t, `"X"`, string(ack.Commands[0].Payload))

	d, _ = reg.Get("dev-1")
	assert.Empty(t, d.Pending)
}
