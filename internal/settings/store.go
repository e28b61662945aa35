package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coldwatch/internal/alerts"
	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
	"coldwatch/internal/state"
)

// Namespace and keys used in the persistence collaborator
const (
	Namespace      = "coldwatch"
	KeyTemperature = "temp_th"
	KeyHumidity    = "hum_th"
	KeyDestination = "dest"
)

var (
	// ErrSaveFailed wraps any persistence failure from a save operation
	ErrSaveFailed = errors.New("settings save failed")
	// ErrMalformed is returned when stored bytes cannot be decoded
	ErrMalformed = errors.New("malformed settings value")
	// ErrUnknownQuantity is returned for quantities that carry no threshold
	ErrUnknownQuantity = errors.New("quantity has no threshold")
)

// Defaults applied per key when nothing valid is stored
var (
	DefaultTemperature = alerts.Above(30.0)
	DefaultHumidity    = alerts.Above(70.0)
)

// Settings is the operator-controlled configuration
type Settings struct {
	Temperature alerts.Threshold
	Humidity    alerts.Threshold
	Destination string
}

// Defaults returns the settings used on an empty store
func Defaults() Settings {
	return Settings{
		Temperature: DefaultTemperature,
		Humidity:    DefaultHumidity,
	}
}

// KeyFor returns the storage key holding the threshold of q
func KeyFor(q models.Quantity) (string, error) {
	switch q {
	case models.QuantityTemperature:
		return KeyTemperature, nil
	case models.QuantityHumidity:
		return KeyHumidity, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownQuantity, q)
	}
}

// thresholdRecord is the on-disk encoding of a threshold
type thresholdRecord struct {
	Op     string  `json:"op"`
	Bound1 float64 `json:"b1"`
	Bound2 float64 `json:"b2"`
}

// EncodeThreshold serializes t as JSON
func EncodeThreshold(t alerts.Threshold) ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: invalid threshold %+v", ErrMalformed, t)
	}
	t = t.Normalized()
	return json.Marshal(thresholdRecord{Op: t.Op.String(), Bound1: t.Bound1, Bound2: t.Bound2})
}

// DecodeThreshold parses bytes written by EncodeThreshold
func DecodeThreshold(data []byte) (alerts.Threshold, error) {
	var rec thresholdRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return alerts.Threshold{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	op, err := alerts.ParseOperator(rec.Op)
	if err != nil {
		return alerts.Threshold{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	t := alerts.Threshold{Op: op, Bound1: rec.Bound1, Bound2: rec.Bound2}
	if !t.IsValid() {
		return alerts.Threshold{}, fmt.Errorf("%w: non-finite bound", ErrMalformed)
	}
	return t.Normalized(), nil
}

// Store loads and saves Settings through a state.Store. Each key is
// independent: a failure on one never blocks or rolls back another.
type Store struct {
	kv      state.Store
	timeout time.Duration
}

// NewStore wraps kv. Each operation is bounded by timeout (5s when zero).
func NewStore(kv state.Store, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{kv: kv, timeout: timeout}
}

// Load reads every key independently and substitutes the default for any
// key that is missing, unreadable or malformed. It never fails.
func (s *Store) Load(ctx context.Context) Settings {
	out := Defaults()
	out.Temperature = s.loadThreshold(ctx, KeyTemperature, DefaultTemperature)
	out.Humidity = s.loadThreshold(ctx, KeyHumidity, DefaultHumidity)

	if v, ok := s.get(ctx, KeyDestination); ok {
		out.Destination = string(v)
	}

	log := logger.WithComponent("settings")
	log.Info().
		Str("temperature", out.Temperature.Describe()).
		Str("humidity", out.Humidity.Describe()).
		Bool("destination_set", out.Destination != "").
		Msg("settings loaded")
	return out
}

func (s *Store) loadThreshold(ctx context.Context, key string, def alerts.Threshold) alerts.Threshold {
	v, ok := s.get(ctx, key)
	if !ok {
		return def
	}
	t, err := DecodeThreshold(v)
	if err != nil {
		log := logger.WithComponent("settings")
		log.Warn().
			Err(err).
			Str("key", key).
			Str("default", def.Describe()).
			Msg("stored threshold is malformed, using default")
		return def
	}
	return t
}

// get returns the stored bytes, or false when the key is absent or unreadable
func (s *Store) get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	v, err := s.kv.Get(ctx, Namespace, key)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			log := logger.WithComponent("settings")
			log.Error().
				Err(err).
				Str("key", key).
				Msg("failed to read settings key")
		}
		return nil, false
	}
	return v, true
}

// SaveThreshold writes the threshold of q immediately
func (s *Store) SaveThreshold(ctx context.Context, q models.Quantity, t alerts.Threshold) error {
	key, err := KeyFor(q)
	if err != nil {
		return err
	}
	data, err := EncodeThreshold(t)
	if err != nil {
		return err
	}
	return s.set(ctx, key, data)
}

// SaveDestination writes the notification destination immediately
func (s *Store) SaveDestination(ctx context.Context, dest string) error {
	return s.set(ctx, KeyDestination, []byte(dest))
}

func (s *Store) set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.kv.Set(ctx, Namespace, key, value); err != nil {
		metrics.SettingsSaveFailures.WithLabelValues(key).Inc()
		log := logger.WithComponent("settings")
		log.Error().
			Err(err).
			Str("key", key).
			Msg("failed to persist settings key")
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, key, err)
	}
	return nil
}
