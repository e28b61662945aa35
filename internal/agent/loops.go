package agent

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"coldwatch/internal/alerts"
	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
	"coldwatch/internal/notify"
)

// evaluationLoop runs one cycle immediately and then on every tick.
// A cycle always completes; cancellation is observed between cycles.
func (a *Agent) evaluationLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Agent.CycleInterval)
	defer ticker.Stop()

	a.Cycle(context.WithoutCancel(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Cycle(context.WithoutCancel(ctx))
		}
	}
}

// Cycle samples the sensors, evaluates the latch and fans out any
// transition. It returns the fan-out result when an event was emitted.
func (a *Agent) Cycle(ctx context.Context) (*alerts.Event, notify.Result) {
	ctx, span := otel.Tracer("coldwatch/agent").Start(ctx, "agent.cycle")
	defer span.End()

	start := time.Now()
	defer func() { metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()

	r := a.deps.Sensors.ReadAll(ctx)
	a.mu.Lock()
	a.last = &r
	a.mu.Unlock()

	span.SetAttributes(
		attribute.Float64("reading.temperature", r.Temperature.Value),
		attribute.Float64("reading.humidity", r.Humidity.Value),
		attribute.Bool("reading.fallback", r.AnyFallback()),
	)

	log := logger.WithComponent("agent")
	log.Debug().
		Float64("temperature", r.Temperature.Value).
		Float64("humidity", r.Humidity.Value).
		Float64("probe_temperature", r.ProbeTemperature.Value).
		Bool("fallback", r.AnyFallback()).
		Msg("cycle sampled")

	ev := a.engine.Evaluate(r)
	if ev == nil {
		return nil, notify.Result{}
	}
	span.SetAttributes(attribute.String("alert.kind", string(ev.Kind)))
	return ev, a.dispatcher.Fanout(ctx, ev, a.live.Destination())
}

// telemetryLoop publishes the latest readings on the data topic
func (a *Agent) telemetryLoop(ctx context.Context) {
	if a.deps.Publisher == nil {
		return
	}
	ticker := time.NewTicker(a.cfg.Agent.TelemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, a.cfg.Notify.ChannelTimeout)
			_ = a.PublishTelemetry(pctx)
			cancel()
		}
	}
}

// PublishTelemetry sends the last sampled readings. It is a no-op before
// the first cycle or without a publisher.
func (a *Agent) PublishTelemetry(ctx context.Context) error {
	if a.deps.Publisher == nil {
		return nil
	}
	r, ok := a.LastReadings()
	if !ok {
		return nil
	}

	payload, err := json.Marshal(models.NewTelemetry(a.deviceID, r, a.engine.State() == alerts.StateAlerting))
	if err != nil {
		return err
	}

	log := logger.WithComponent("agent")
	if err := a.deps.Publisher.Publish(ctx, a.topics.Data, payload); err != nil {
		metrics.TelemetryPublishedTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("topic", a.topics.Data).Msg("telemetry publish failed")
		return err
	}
	metrics.TelemetryPublishedTotal.WithLabelValues("success").Inc()
	log.Debug().Str("topic", a.topics.Data).Int("bytes", len(payload)).Msg("telemetry published")
	return nil
}

// LastReadings returns the most recent cycle's readings
func (a *Agent) LastReadings() (models.Readings, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return models.Readings{}, false
	}
	return *a.last, true
}

// reportStats periodically logs statistics
func (a *Agent) reportStats(ctx context.Context) {
	log := logger.WithComponent("agent")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := a.workerPool.Stats()
			metrics.WorkerQueueSize.Set(float64(len(a.queue)))

			log.Info().
				Uint64("worker_processed", stats.Processed).
				Uint64("worker_failed", stats.Failed).
				Int("queue_size", len(a.queue)).
				Str("latch", a.engine.State().String()).
				Msg("stats")
		}
	}
}
