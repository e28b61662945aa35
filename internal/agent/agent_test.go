package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldwatch/internal/alerts"
	"coldwatch/internal/config"
	"coldwatch/internal/models"
	"coldwatch/internal/notify"
	"coldwatch/internal/sensor"
	"coldwatch/internal/state"
)

type mockPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	fail     atomic.Bool
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if m.fail.Load() {
		return errors.New("broker unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messages == nil {
		m.messages = map[string][][]byte{}
	}
	m.messages[topic] = append(m.messages[topic], payload)
	return nil
}

func (m *mockPublisher) count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[topic])
}

type mockModem struct {
	texts   atomic.Int32
	calls   atomic.Int32
	lastTo  atomic.Value
	inbound chan string
}

func (m *mockModem) SendText(ctx context.Context, dest, body string) error {
	m.texts.Add(1)
	m.lastTo.Store(dest)
	return nil
}

func (m *mockModem) PlaceCall(ctx context.Context, dest string) error {
	m.calls.Add(1)
	return nil
}

func (m *mockModem) Listen(ctx context.Context, out chan<- models.InboundMessage) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-m.inbound:
			out <- models.NewInboundMessage(models.SourceModem, []byte(text))
		}
	}
}

type mockSubscriber struct {
	texts chan string
	topic atomic.Value
}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string, out chan<- models.InboundMessage) error {
	m.topic.Store(topic)
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-m.texts:
			out <- models.NewInboundMessage(models.SourceKafka, []byte(text))
		}
	}
}

type fixture struct {
	agent   *Agent
	sensors *sensor.Static
	store   *state.MemoryStore
	pub     *mockPublisher
	modem   *mockModem
	sub     *mockSubscriber
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.HTTP.Addr = ""
	cfg.Storage.Backend = config.StorageMemory
	cfg.Agent.CycleInterval = 20 * time.Millisecond
	cfg.Agent.TelemetryInterval = 20 * time.Millisecond
	cfg.Agent.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newFixture(t *testing.T, store *state.MemoryStore) *fixture {
	t.Helper()
	if store == nil {
		store = state.NewMemoryStore()
	}
	f := &fixture{
		sensors: sensor.NewStatic(4, 50, 3),
		store:   store,
		pub:     &mockPublisher{},
		modem:   &mockModem{inbound: make(chan string, 1)},
		sub:     &mockSubscriber{texts: make(chan string, 1)},
	}
	a, err := New(context.Background(), testConfig(), "DEV1", Deps{
		Sensors:    f.sensors,
		Store:      store,
		Publisher:  f.pub,
		Subscriber: f.sub,
		Modem:      f.modem,
	})
	require.NoError(t, err)
	f.agent = a
	return f
}

func inbound(text string) models.InboundMessage {
	return models.NewInboundMessage(models.SourceHTTP, []byte(text))
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(context.Background(), testConfig(), "DEV1", Deps{Store: state.NewMemoryStore()})
	assert.Error(t, err)
	_, err = New(context.Background(), testConfig(), "DEV1", Deps{Sensors: sensor.NewStatic(0, 0, 0)})
	assert.Error(t, err)
}

func TestCycle_RaiseAndRecover(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	ev, _ := f.agent.Cycle(ctx)
	assert.Nil(t, ev)

	f.sensors.Set(31, 45, 3)
	ev, res := f.agent.Cycle(ctx)
	require.NotNil(t, ev)
	assert.Equal(t, alerts.EventAlertRaised, ev.Kind)
	assert.Equal(t, "ALERT: Temp 31.00 C (limit >30.0), Hum 45.00 % (limit >70.0)", ev.Message)

	status, _ := res.StatusOf(notify.ChannelSMS)
	assert.Equal(t, notify.StatusSkipped, status, "no destination configured yet")
	assert.Equal(t, 1, f.pub.count("DEV1.cold_storage.alerts"))

	ev, _ = f.agent.Cycle(ctx)
	assert.Nil(t, ev, "still alerting, no repeat")

	require.NoError(t, f.agent.handleMessage(ctx, inbound("#+8801521475412#")))

	f.sensors.Set(29, 45, 3)
	ev, res = f.agent.Cycle(ctx)
	require.NotNil(t, ev)
	assert.Equal(t, alerts.EventAlertCleared, ev.Kind)
	assert.Equal(t, "RECOVERED: Temp 29.00 C (limit >30.0), Hum 45.00 % (limit >70.0)", ev.Message)

	status, _ = res.StatusOf(notify.ChannelSMS)
	assert.Equal(t, notify.StatusSent, status)
	assert.Equal(t, "8801521475412", f.modem.lastTo.Load())
	assert.EqualValues(t, 0, f.modem.calls.Load(), "no call on recovery")
}

func TestCycle_DirectiveAppliesOnNextCycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.sensors.Set(26, 50, 3)
	ev, _ := f.agent.Cycle(ctx)
	assert.Nil(t, ev)

	require.NoError(t, f.agent.handleMessage(ctx, inbound("#temp:GT,25#")))
	assert.Equal(t, alerts.StateNormal, f.agent.Engine().State(), "applying a directive never moves the latch")

	ev, _ = f.agent.Cycle(ctx)
	require.NotNil(t, ev)
	assert.Equal(t, alerts.EventAlertRaised, ev.Kind)
	assert.Contains(t, ev.Message, "limit >25.0")
}

func TestCycle_PublisherFailureDoesNotStopSMS(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.agent.handleMessage(ctx, inbound("#+123456#")))
	f.pub.fail.Store(true)

	f.sensors.Set(4, 90, 3)
	ev, res := f.agent.Cycle(ctx)
	require.NotNil(t, ev)

	status, _ := res.StatusOf(notify.ChannelPubSub)
	assert.Equal(t, notify.StatusFailed, status)
	assert.EqualValues(t, 1, f.modem.texts.Load())
	assert.EqualValues(t, 1, f.modem.calls.Load())
	assert.Equal(t, alerts.StateAlerting, f.agent.Engine().State())
}

func TestHandleMessage_PersistsAcrossRestart(t *testing.T) {
	store := state.NewMemoryStore()
	f := newFixture(t, store)
	ctx := context.Background()

	require.NoError(t, f.agent.handleMessage(ctx, inbound("noise #hum:R,40,60# more #+8801521475412#")))
	require.NoError(t, f.agent.handleMessage(ctx, inbound("nothing to see")))

	restarted := newFixture(t, store)
	s := restarted.agent.Live().Snapshot()
	assert.Equal(t, alerts.Between(40, 60), s.Humidity)
	assert.Equal(t, alerts.Above(30), s.Temperature)
	assert.Equal(t, "8801521475412", s.Destination)
}

func TestPublishTelemetry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.agent.PublishTelemetry(ctx))
	assert.Zero(t, f.pub.count("DEV1.cold_storage.data"), "nothing before the first cycle")

	f.agent.Cycle(ctx)
	require.NoError(t, f.agent.PublishTelemetry(ctx))
	require.Equal(t, 1, f.pub.count("DEV1.cold_storage.data"))

	var tel models.Telemetry
	require.NoError(t, json.Unmarshal(f.pub.messages["DEV1.cold_storage.data"][0], &tel))
	assert.Equal(t, "DEV1", tel.DeviceID)
	assert.Equal(t, 4.0, tel.DHTTemp)
	assert.Equal(t, 50.0, tel.DHTHum)
	assert.Equal(t, 3.0, tel.DSTemp)
	assert.False(t, tel.Alerting)
}

func TestRouter(t *testing.T) {
	f := newFixture(t, nil)
	h := f.agent.Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings", nil))
	assert.Contains(t, rec.Body.String(), `"limit":">30.0"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var rep StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "DEV1", rep.DeviceID)
	assert.Equal(t, "normal", rep.Latch)
	assert.Equal(t, []string{"call", "pubsub", "sms"}, rep.Channels)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/commands", strings.NewReader("#temp:LT,2#")))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, f.agent.queue, 1)
}

func TestRun_IngestsFromEveryTransport(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.agent.Run(ctx) }()

	f.sub.texts <- "#temp:R,2,8#"
	f.modem.inbound <- "#+123456#"
	f.agent.Queue() <- inbound("#hum:LT,20#")

	require.Eventually(t, func() bool {
		s := f.agent.Live().Snapshot()
		return s.Temperature == alerts.Between(2, 8) &&
			s.Destination == "123456" &&
			s.Humidity == alerts.Below(20)
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "DEV1.cold_storage.commands", f.sub.topic.Load())

	require.Eventually(t, func() bool {
		return f.pub.count("DEV1.cold_storage.data") > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestChannels_SkipsUnavailableTransports(t *testing.T) {
	a, err := New(context.Background(), testConfig(), "DEV1", Deps{
		Sensors: sensor.NewStatic(4, 50, 3),
		Store:   state.NewMemoryStore(),
	})
	require.NoError(t, err)
	assert.Empty(t, a.dispatcher.Channels())
}
