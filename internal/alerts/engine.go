package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

// State is the alert latch state
type State int

const (
	StateNormal State = iota
	StateAlerting
)

func (s State) String() string {
	if s == StateAlerting {
		return "alerting"
	}
	return "normal"
}

// EventKind distinguishes latch transitions
type EventKind string

const (
	EventAlertRaised  EventKind = "alert_raised"
	EventAlertCleared EventKind = "alert_cleared"
)

// Event is emitted on a latch transition and carries the rendered message
type Event struct {
	ID          string          `json:"id"`
	Kind        EventKind       `json:"kind"`
	Message     string          `json:"message"`
	Readings    models.Readings `json:"readings"`
	Temperature string          `json:"temperature_limit"`
	Humidity    string          `json:"humidity_limit"`
	At          time.Time       `json:"at"`
}

// ThresholdSource supplies a consistent snapshot of the current thresholds
type ThresholdSource interface {
	Thresholds() (temp, hum Threshold)
}

// Engine evaluates readings and drives a single latch covering all quantities.
// The latch enters Alerting when any quantity exceeds its threshold and
// returns to Normal only when all are back in bounds.
type Engine struct {
	mu     sync.Mutex
	source ThresholdSource
	state  State
}

// NewEngine creates an engine in the Normal state
func NewEngine(source ThresholdSource) *Engine {
	metrics.LatchState.Set(0)
	return &Engine{source: source}
}

// State returns the current latch state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Evaluate runs one cycle. It returns an event only when the latch changes state.
func (e *Engine) Evaluate(r models.Readings) *Event {
	temp, hum := e.source.Thresholds()
	exceeded := temp.Evaluate(r.Temperature.Value) || hum.Evaluate(r.Humidity.Value)

	e.mu.Lock()
	defer e.mu.Unlock()

	var kind EventKind
	switch {
	case exceeded && e.state == StateNormal:
		e.state = StateAlerting
		kind = EventAlertRaised
	case !exceeded && e.state == StateAlerting:
		e.state = StateNormal
		kind = EventAlertCleared
	default:
		return nil
	}

	metrics.LatchState.Set(float64(e.state))
	metrics.AlertTransitionsTotal.WithLabelValues(string(kind)).Inc()

	ev := &Event{
		ID:          uuid.New().String(),
		Kind:        kind,
		Message:     Render(kind, r, temp, hum),
		Readings:    r,
		Temperature: temp.Describe(),
		Humidity:    hum.Describe(),
		At:          time.Now().UTC(),
	}

	log := logger.WithComponent("alert_engine")
	log.Warn().
		Str("event_id", ev.ID).
		Str("kind", string(kind)).
		Str("state", e.state.String()).
		Bool("fallback", r.AnyFallback()).
		Msg(ev.Message)

	return ev
}

// Render formats the human-facing notification for a transition
func Render(kind EventKind, r models.Readings, temp, hum Threshold) string {
	prefix := "ALERT"
	if kind == EventAlertCleared {
		prefix = "RECOVERED"
	}
	return fmt.Sprintf("%s: Temp %.2f C (limit %s), Hum %.2f %% (limit %s)",
		prefix,
		r.Temperature.Value, temp.Describe(),
		r.Humidity.Value, hum.Describe(),
	)
}
