package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldwatch/internal/alerts"
	"coldwatch/internal/models"
)

type mockPublisher struct {
	mu       sync.Mutex
	topic    string
	payloads [][]byte
	err      error
	calls    atomic.Int32
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	m.calls.Add(1)
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topic = topic
	m.payloads = append(m.payloads, payload)
	return nil
}

type mockModem struct {
	texts atomic.Int32
	calls atomic.Int32
	dest  atomic.Value
	body  atomic.Value
	block bool
}

func (m *mockModem) SendText(ctx context.Context, dest, body string) error {
	m.texts.Add(1)
	m.dest.Store(dest)
	m.body.Store(body)
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (m *mockModem) PlaceCall(ctx context.Context, dest string) error {
	m.calls.Add(1)
	return nil
}

func raised() *alerts.Event {
	r := models.NewReadings(31, 45, 4)
	temp, hum := alerts.Above(30), alerts.Above(70)
	return &alerts.Event{
		ID:      "evt-1",
		Kind:    alerts.EventAlertRaised,
		Message: alerts.Render(alerts.EventAlertRaised, r, temp, hum),
		At:      time.Now(),
	}
}

func cleared() *alerts.Event {
	ev := raised()
	ev.Kind = alerts.EventAlertCleared
	ev.Message = "RECOVERED"
	return ev
}

func newDispatcher(pub *mockPublisher, modem *mockModem, timeout time.Duration) *Dispatcher {
	return NewDispatcher(map[string]Channel{
		ChannelPubSub: PubSub(pub, "dev.cold_storage.alerts"),
		ChannelSMS:    SMS(modem),
		ChannelCall:   Call(modem),
	}, timeout)
}

func TestDispatcher_ChannelsSorted(t *testing.T) {
	d := newDispatcher(&mockPublisher{}, &mockModem{}, 0)
	assert.Equal(t, []string{"call", "pubsub", "sms"}, d.Channels())
}

func TestDispatcher_FanoutAllChannels(t *testing.T) {
	pub := &mockPublisher{}
	modem := &mockModem{}
	d := newDispatcher(pub, modem, 0)

	res := d.Fanout(context.Background(), raised(), "8801521475412")
	assert.Equal(t, 3, res.Count(StatusSent))

	assert.Equal(t, "dev.cold_storage.alerts", pub.topic)
	require.Len(t, pub.payloads, 1)
	var decoded alerts.Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, alerts.EventAlertRaised, decoded.Kind)

	assert.Equal(t, "8801521475412", modem.dest.Load())
	assert.Contains(t, modem.body.Load(), "ALERT: Temp 31.00 C (limit >30.0)")
	assert.EqualValues(t, 1, modem.calls.Load())
}

func TestDispatcher_CallOnlyOnRaise(t *testing.T) {
	modem := &mockModem{}
	d := newDispatcher(&mockPublisher{}, modem, 0)

	res := d.Fanout(context.Background(), cleared(), "123456")
	status, ok := res.StatusOf(ChannelCall)
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, status)
	assert.EqualValues(t, 0, modem.calls.Load())
	assert.EqualValues(t, 1, modem.texts.Load())
}

func TestDispatcher_EmptyDestinationSkipsPointToPoint(t *testing.T) {
	pub := &mockPublisher{}
	modem := &mockModem{}
	d := newDispatcher(pub, modem, 0)

	res := d.Fanout(context.Background(), raised(), "")

	status, _ := res.StatusOf(ChannelSMS)
	assert.Equal(t, StatusSkipped, status)
	status, _ = res.StatusOf(ChannelPubSub)
	assert.Equal(t, StatusSent, status)
	assert.EqualValues(t, 0, modem.texts.Load())
	assert.EqualValues(t, 0, modem.calls.Load())
}

func TestDispatcher_FailureDoesNotStopOtherChannels(t *testing.T) {
	pub := &mockPublisher{err: errors.New("broker down")}
	modem := &mockModem{}
	d := newDispatcher(pub, modem, 0)

	res := d.Fanout(context.Background(), raised(), "123456")

	status, _ := res.StatusOf(ChannelPubSub)
	assert.Equal(t, StatusFailed, status)
	status, _ = res.StatusOf(ChannelSMS)
	assert.Equal(t, StatusSent, status)
	assert.EqualValues(t, 1, pub.calls.Load())
	assert.EqualValues(t, 1, modem.texts.Load())
}

func TestDispatcher_ChannelTimeout(t *testing.T) {
	modem := &mockModem{block: true}
	d := NewDispatcher(map[string]Channel{ChannelSMS: SMS(modem)}, 20*time.Millisecond)

	start := time.Now()
	res := d.Fanout(context.Background(), raised(), "123456")

	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, StatusFailed, res.Outcomes[0].Status)
	assert.ErrorIs(t, res.Outcomes[0].Err, context.DeadlineExceeded)
}

func TestDispatcher_RecoversChannelPanic(t *testing.T) {
	modem := &mockModem{}
	d := NewDispatcher(map[string]Channel{
		"boom":     ChannelFunc(func(context.Context, *alerts.Event, string) error { panic("bad channel") }),
		ChannelSMS: SMS(modem),
	}, 0)

	res := d.Fanout(context.Background(), raised(), "123456")
	status, _ := res.StatusOf("boom")
	assert.Equal(t, StatusFailed, status)
	status, _ = res.StatusOf(ChannelSMS)
	assert.Equal(t, StatusSent, status)
}

func TestDispatcher_CancelledContextSkipsRemaining(t *testing.T) {
	modem := &mockModem{}
	d := newDispatcher(&mockPublisher{}, modem, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := d.Fanout(ctx, raised(), "123456")
	assert.Equal(t, 3, res.Count(StatusSkipped))
	assert.EqualValues(t, 0, modem.texts.Load())
}
