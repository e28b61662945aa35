package alerts

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreshold_Evaluate(t *testing.T) {
	tests := []struct {
		name  string
		th    Threshold
		value float64
		want  bool
	}{
		{"gt above", Above(30), 30.5, true},
		{"gt equal", Above(30), 30, false},
		{"gt below", Above(30), 29, false},
		{"lt below", Below(5), 4.9, true},
		{"lt equal", Below(5), 5, false},
		{"range inside", Between(40, 60), 50, true},
		{"range lower edge", Between(40, 60), 40, false},
		{"range upper edge", Between(40, 60), 60, false},
		{"range outside", Between(40, 60), 61, false},
		{"range inverted", Between(60, 40), 50, false},
		{"range empty", Between(50, 50), 50, false},
		{"gt ignores bound2", Threshold{Op: GreaterThan, Bound1: 10, Bound2: 100}, 50, true},
		{"unknown operator", Threshold{Op: Operator(9), Bound1: 1}, 50, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.th.Evaluate(tt.value))
		})
	}
}

func TestThreshold_EvaluateNaN(t *testing.T) {
	nan := math.NaN()
	for _, th := range []Threshold{Above(0), Below(0), Between(-100, 100)} {
		assert.False(t, th.Evaluate(nan), th.Describe())
	}
}

func TestThreshold_EqualBoundsNeverMatch(t *testing.T) {
	th := Between(25, 25)
	for _, v := range []float64{-1e9, 24.999, 25, 25.001, 1e9, math.Inf(1), math.Inf(-1)} {
		assert.False(t, th.Evaluate(v), "value %v", v)
	}
}

func TestThreshold_Describe(t *testing.T) {
	assert.Equal(t, ">30.0", Above(30).Describe())
	assert.Equal(t, "<-2.5", Below(-2.5).Describe())
	assert.Equal(t, "40.0-60.0", Between(40, 60).Describe())
	assert.Equal(t, ">31.5", Above(31.5).Describe())
}

func TestParseOperator(t *testing.T) {
	for token, want := range map[string]Operator{"GT": GreaterThan, "lt": LessThan, " r ": InRange} {
		op, err := ParseOperator(token)
		require.NoError(t, err)
		assert.Equal(t, want, op)
		if token == "GT" {
			assert.Equal(t, "GT", op.String())
		}
	}

	_, err := ParseOperator("XY")
	require.ErrorIs(t, err, ErrUnknownOperator)
}

func TestThreshold_IsValid(t *testing.T) {
	assert.True(t, Above(1).IsValid())
	assert.True(t, Threshold{Op: LessThan, Bound1: 1, Bound2: math.NaN()}.IsValid())
	assert.False(t, Between(1, math.Inf(1)).IsValid())
	assert.False(t, Above(math.NaN()).IsValid())
	assert.False(t, Threshold{Op: Operator(7)}.IsValid())
}

func TestThreshold_Normalized(t *testing.T) {
	got := Threshold{Op: GreaterThan, Bound1: 3, Bound2: 9}.Normalized()
	assert.Equal(t, Above(3), got)
	assert.Equal(t, Between(1, 2), Between(1, 2).Normalized())
}
