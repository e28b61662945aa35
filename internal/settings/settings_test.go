package settings

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldwatch/internal/alerts"
	"coldwatch/internal/command"
	"coldwatch/internal/logger"
	"coldwatch/internal/models"
	"coldwatch/internal/state"
)

// failingKV rejects every write
type failingKV struct {
	state.Store
	mu     sync.Mutex
	writes int
}

func (f *failingKV) Set(ctx context.Context, namespace, key string, value []byte) error {
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
	return errors.New("flash full")
}

func TestLoad_EmptyStoreUsesDefaults(t *testing.T) {
	s := NewStore(state.NewMemoryStore(), 0)
	got := s.Load(context.Background())

	assert.Equal(t, alerts.Above(30), got.Temperature)
	assert.Equal(t, alerts.Above(70), got.Humidity)
	assert.Equal(t, "", got.Destination)
}

func TestLoad_MalformedKeyFallsBackIndependently(t *testing.T) {
	ctx := context.Background()
	kv := state.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, Namespace, KeyTemperature, []byte("garbage")))
	require.NoError(t, kv.Set(ctx, Namespace, KeyHumidity, []byte(`{"op":"LT","b1":20,"b2":0}`)))
	require.NoError(t, kv.Set(ctx, Namespace, KeyDestination, []byte("8801521475412")))

	got := NewStore(kv, 0).Load(ctx)
	assert.Equal(t, DefaultTemperature, got.Temperature)
	assert.Equal(t, alerts.Below(20), got.Humidity)
	assert.Equal(t, "8801521475412", got.Destination)
}

func TestLoad_UnknownOperatorIsMalformed(t *testing.T) {
	ctx := context.Background()
	kv := state.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, Namespace, KeyHumidity, []byte(`{"op":"EQ","b1":20}`)))

	got := NewStore(kv, 0).Load(ctx)
	assert.Equal(t, DefaultHumidity, got.Humidity)
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.yaml")

	kv, err := state.NewFileStore(path)
	require.NoError(t, err)
	s := NewStore(kv, 0)
	require.NoError(t, s.SaveThreshold(ctx, models.QuantityTemperature, alerts.Between(2, 8)))
	require.NoError(t, s.SaveThreshold(ctx, models.QuantityHumidity, alerts.Below(40)))
	require.NoError(t, s.SaveDestination(ctx, "123456"))
	require.NoError(t, kv.Close())

	reopened, err := state.NewFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got := NewStore(reopened, 0).Load(ctx)
	assert.Equal(t, alerts.Between(2, 8), got.Temperature)
	assert.Equal(t, alerts.Below(40), got.Humidity)
	assert.Equal(t, "123456", got.Destination)
}

func TestStore_SaveThresholdRejectsProbeQuantity(t *testing.T) {
	s := NewStore(state.NewMemoryStore(), 0)
	err := s.SaveThreshold(context.Background(), models.QuantityProbeTemperature, alerts.Above(1))
	assert.ErrorIs(t, err, ErrUnknownQuantity)
}

func TestThresholdEncoding(t *testing.T) {
	data, err := EncodeThreshold(alerts.Above(30))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"GT","b1":30,"b2":0}`, string(data))

	back, err := DecodeThreshold(data)
	require.NoError(t, err)
	assert.Equal(t, alerts.Above(30), back)

	_, err = DecodeThreshold([]byte(`{"op":"R","b1":1e999}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLive_ApplyUpdatesMemoryAndStore(t *testing.T) {
	ctx := context.Background()
	kv := state.NewMemoryStore()
	store := NewStore(kv, 0)
	live := NewLive(Defaults(), store)

	require.NoError(t, live.Apply(ctx, command.SetThreshold(models.QuantityTemperature, alerts.Between(20, 40))))
	require.NoError(t, live.Apply(ctx, command.SetDestination("8801521475412")))

	temp, hum := live.Thresholds()
	assert.Equal(t, alerts.Between(20, 40), temp)
	assert.Equal(t, DefaultHumidity, hum)
	assert.Equal(t, "8801521475412", live.Destination())

	reloaded := NewStore(kv, 0).Load(ctx)
	assert.Equal(t, live.Snapshot(), reloaded)
}

func TestLive_ApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	live := NewLive(Defaults(), NewStore(state.NewMemoryStore(), 0))
	d := command.SetThreshold(models.QuantityHumidity, alerts.Above(65))

	require.NoError(t, live.Apply(ctx, d))
	first := live.Snapshot()
	require.NoError(t, live.Apply(ctx, d))
	assert.Equal(t, first, live.Snapshot())
}

func TestLive_SaveFailureKeepsMemoryValue(t *testing.T) {
	kv := &failingKV{Store: state.NewMemoryStore()}
	live := NewLive(Defaults(), NewStore(kv, 0))

	err := live.Apply(context.Background(), command.SetThreshold(models.QuantityTemperature, alerts.Below(5)))
	require.ErrorIs(t, err, ErrSaveFailed)

	temp, _ := live.Thresholds()
	assert.Equal(t, alerts.Below(5), temp)
	assert.Equal(t, 1, kv.writes)
}

func TestStore_LogsFailedSaveAndMalformedKey(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(&bytes.Buffer{}) })

	kv := &failingKV{Store: state.NewMemoryStore()}
	require.NoError(t, kv.Store.Set(context.Background(), Namespace, KeyHumidity, []byte("{")))
	store := NewStore(kv, 0)

	require.ErrorIs(t, store.SaveDestination(context.Background(), "123456"), ErrSaveFailed)
	store.Load(context.Background())

	out := buf.String()
	assert.Contains(t, out, `"component":"settings"`)
	assert.Contains(t, out, "failed to persist settings key")
	assert.Contains(t, out, "stored threshold is malformed, using default")
	assert.Contains(t, out, "settings loaded")
}

func TestLive_ApplyAllJoinsErrors(t *testing.T) {
	kv := &failingKV{Store: state.NewMemoryStore()}
	live := NewLive(Defaults(), NewStore(kv, 0))

	err := live.ApplyAll(context.Background(), []command.Directive{
		command.SetDestination("123456"),
		command.SetThreshold(models.QuantityHumidity, alerts.Above(90)),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSaveFailed)
	assert.Equal(t, 2, kv.writes)
	assert.Equal(t, "123456", live.Destination())
}

func TestLive_ConcurrentReadersSeeWholeThresholds(t *testing.T) {
	ctx := context.Background()
	live := NewLive(Defaults(), NewStore(state.NewMemoryStore(), 0))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = live.Apply(ctx, command.SetThreshold(models.QuantityTemperature, alerts.Between(float64(i), float64(i+10))))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			temp, _ := live.Thresholds()
			if temp.Op == alerts.InRange {
				assert.Equal(t, temp.Bound1+10, temp.Bound2)
			}
		}
	}()
	wg.Wait()
}
