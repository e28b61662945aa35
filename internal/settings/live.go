package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"coldwatch/internal/alerts"
	"coldwatch/internal/command"
	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

// Persister saves individual settings keys
type Persister interface {
	SaveThreshold(ctx context.Context, q models.Quantity, t alerts.Threshold) error
	SaveDestination(ctx context.Context, dest string) error
}

// Live is the single shared configuration object. The evaluation cycle reads
// snapshots; the ingestion path applies directives. Readers never wait on I/O.
type Live struct {
	mu  sync.RWMutex
	cur Settings

	// persistMu orders memory updates with their writes so the last
	// applied value is also the last persisted one
	persistMu sync.Mutex
	store     Persister
}

// NewLive seeds the live configuration
func NewLive(initial Settings, store Persister) *Live {
	return &Live{cur: initial, store: store}
}

// Thresholds returns a consistent snapshot of both thresholds
func (l *Live) Thresholds() (temp, hum alerts.Threshold) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur.Temperature, l.cur.Humidity
}

// Destination returns the current notification destination
func (l *Live) Destination() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur.Destination
}

// Snapshot returns a copy of the full configuration
func (l *Live) Snapshot() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// Apply replaces the targeted setting wholesale and persists it. On a save
// failure the in-memory value is kept and an ErrSaveFailed error returned.
func (l *Live) Apply(ctx context.Context, d command.Directive) error {
	ctx, span := otel.Tracer("coldwatch/settings").Start(ctx, "settings.apply")
	defer span.End()
	span.SetAttributes(attribute.String("directive.kind", string(d.Kind)))

	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	log := logger.WithComponent("settings")

	var err error
	switch d.Kind {
	case command.KindSetDestination:
		l.mu.Lock()
		l.cur.Destination = d.Destination
		l.mu.Unlock()
		err = l.store.SaveDestination(ctx, d.Destination)

	case command.KindSetThreshold:
		t := d.Threshold.Normalized()
		l.mu.Lock()
		switch d.Quantity {
		case models.QuantityTemperature:
			l.cur.Temperature = t
		case models.QuantityHumidity:
			l.cur.Humidity = t
		default:
			l.mu.Unlock()
			return fmt.Errorf("%w: %q", ErrUnknownQuantity, d.Quantity)
		}
		l.mu.Unlock()
		err = l.store.SaveThreshold(ctx, d.Quantity, t)

	default:
		return fmt.Errorf("unknown directive kind %q", d.Kind)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		metrics.DirectivesTotal.WithLabelValues(string(d.Kind), "persist_failed").Inc()
		log.Error().Err(err).Str("directive", d.String()).Msg("directive applied in memory but not persisted")
		return err
	}

	metrics.DirectivesTotal.WithLabelValues(string(d.Kind), "applied").Inc()
	log.Info().Str("directive", d.String()).Msg("directive applied")
	return nil
}

// ApplyAll applies each directive independently and joins the errors
func (l *Live) ApplyAll(ctx context.Context, ds []command.Directive) error {
	var errs []error
	for _, d := range ds {
		if err := l.Apply(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
