package alerts

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Operator is the comparison a threshold applies
type Operator int

const (
	GreaterThan Operator = iota
	LessThan
	InRange
)

// ErrUnknownOperator is returned when an operator token is not recognized
var ErrUnknownOperator = errors.New("unknown threshold operator")

// String returns the command token for the operator
func (o Operator) String() string {
	switch o {
	case GreaterThan:
		return "GT"
	case LessThan:
		return "LT"
	case InRange:
		return "R"
	default:
		return fmt.Sprintf("Operator(%d)", int(o))
	}
}

// IsValid reports whether o is one of the three supported operators
func (o Operator) IsValid() bool {
	return o == GreaterThan || o == LessThan || o == InRange
}

// ParseOperator parses a command token (GT, LT, R), case-insensitively
func ParseOperator(token string) (Operator, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "GT":
		return GreaterThan, nil
	case "LT":
		return LessThan, nil
	case "R":
		return InRange, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperator, token)
	}
}

// Threshold is the alert condition for one quantity.
// Bound2 is only meaningful for InRange.
type Threshold struct {
	Op     Operator
	Bound1 float64
	Bound2 float64
}

// Above returns a GreaterThan threshold
func Above(v float64) Threshold { return Threshold{Op: GreaterThan, Bound1: v} }

// Below returns a LessThan threshold
func Below(v float64) Threshold { return Threshold{Op: LessThan, Bound1: v} }

// Between returns an InRange threshold over the open interval (lo, hi)
func Between(lo, hi float64) Threshold { return Threshold{Op: InRange, Bound1: lo, Bound2: hi} }

// Evaluate reports whether value satisfies the condition.
// NaN never satisfies any operator; an inverted or empty range never matches.
func (t Threshold) Evaluate(value float64) bool {
	switch t.Op {
	case GreaterThan:
		return value > t.Bound1
	case LessThan:
		return value < t.Bound1
	case InRange:
		return t.Bound1 < value && value < t.Bound2
	default:
		return false
	}
}

// Describe renders the condition for notification text: ">X", "<X" or "X-Y"
func (t Threshold) Describe() string {
	switch t.Op {
	case GreaterThan:
		return fmt.Sprintf(">%.1f", t.Bound1)
	case LessThan:
		return fmt.Sprintf("<%.1f", t.Bound1)
	case InRange:
		return fmt.Sprintf("%.1f-%.1f", t.Bound1, t.Bound2)
	default:
		return "?"
	}
}

// IsValid reports whether the threshold has a known operator and finite bounds
func (t Threshold) IsValid() bool {
	if !t.Op.IsValid() {
		return false
	}
	if math.IsNaN(t.Bound1) || math.IsInf(t.Bound1, 0) {
		return false
	}
	if t.Op == InRange && (math.IsNaN(t.Bound2) || math.IsInf(t.Bound2, 0)) {
		return false
	}
	return true
}

// Normalized zeroes Bound2 for operators that ignore it, so equal
// conditions compare equal.
func (t Threshold) Normalized() Threshold {
	if t.Op != InRange {
		t.Bound2 = 0
	}
	return t
}
