// Package notify fans a latch transition out to every enabled transport.
package notify

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"coldwatch/internal/alerts"
	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
)

// DefaultChannelTimeout bounds a single channel attempt
const DefaultChannelTimeout = 10 * time.Second

// Status is the outcome of one channel attempt
type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome records what happened on one channel
type Outcome struct {
	Channel string
	Status  Status
	Err     error
}

// Result summarizes a fan-out
type Result struct {
	Outcomes []Outcome
}

// Count returns the number of channels that ended with s
func (r Result) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// StatusOf returns the status recorded for channel
func (r Result) StatusOf(channel string) (Status, bool) {
	for _, o := range r.Outcomes {
		if o.Channel == channel {
			return o.Status, true
		}
	}
	return "", false
}

// Dispatcher sends an event through each channel independently.
// Channels run in name order so delivery is deterministic.
type Dispatcher struct {
	channels map[string]Channel
	names    []string
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher. A non-positive timeout uses DefaultChannelTimeout.
func NewDispatcher(channels map[string]Channel, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultChannelTimeout
	}
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Dispatcher{channels: channels, names: names, timeout: timeout}
}

// Channels returns the configured channel names in delivery order
func (d *Dispatcher) Channels() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Fanout attempts every channel once. Failures are logged and counted and
// never returned to the caller.
func (d *Dispatcher) Fanout(ctx context.Context, ev *alerts.Event, dest string) Result {
	ctx, span := otel.Tracer("coldwatch/notify").Start(ctx, "notify.fanout")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.kind", string(ev.Kind)),
		attribute.String("event.id", ev.ID),
	)

	log := logger.WithComponent("notify")
	res := Result{Outcomes: make([]Outcome, 0, len(d.names))}

	for _, name := range d.names {
		if ctx.Err() != nil {
			res.Outcomes = append(res.Outcomes, Outcome{Channel: name, Status: StatusSkipped, Err: ctx.Err()})
			metrics.NotifyTotal.WithLabelValues(name, string(StatusSkipped)).Inc()
			continue
		}

		out := d.attempt(ctx, name, ev, dest)
		res.Outcomes = append(res.Outcomes, out)
		metrics.NotifyTotal.WithLabelValues(name, string(out.Status)).Inc()

		switch {
		case out.Status == StatusSent:
			log.Info().Str("channel", name).Str("event_id", ev.ID).Msg("notification sent")
		case errors.Is(out.Err, ErrNoDestination):
			log.Warn().Str("channel", name).Str("event_id", ev.ID).Msg("notification skipped, destination is empty")
		case out.Status == StatusSkipped:
			log.Debug().Str("channel", name).Str("event_id", ev.ID).Msg("notification skipped")
		default:
			log.Error().Err(out.Err).Str("channel", name).Str("event_id", ev.ID).Msg("notification failed")
		}
	}

	span.SetAttributes(
		attribute.Int("notify.sent", res.Count(StatusSent)),
		attribute.Int("notify.failed", res.Count(StatusFailed)),
	)
	return res
}

func (d *Dispatcher) attempt(ctx context.Context, name string, ev *alerts.Event, dest string) (out Outcome) {
	out.Channel = name

	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("notify").Inc()
			log := logger.WithComponent("notify")
			log.Error().Interface("panic", r).Str("channel", name).Msg("recovered from panic in channel")
			out.Status = StatusFailed
			out.Err = errors.New("channel panicked")
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.channels[name].Send(cctx, ev, dest)
	metrics.NotifyDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		out.Status = StatusSent
	case errors.Is(err, ErrNoDestination), errors.Is(err, ErrNotApplicable):
		out.Status = StatusSkipped
		out.Err = err
	default:
		out.Status = StatusFailed
		out.Err = err
	}
	return out
}
