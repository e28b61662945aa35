package command

import (
	"fmt"

	"coldwatch/internal/alerts"
	"coldwatch/internal/models"
)

// Kind identifies what a directive changes
type Kind string

const (
	KindSetDestination Kind = "set_destination"
	KindSetThreshold   Kind = "set_threshold"
)

// Directive is a structured instruction decoded from inbound text.
// Destination is set for KindSetDestination; Quantity and Threshold for KindSetThreshold.
type Directive struct {
	Kind        Kind
	Quantity    models.Quantity
	Threshold   alerts.Threshold
	Destination string
}

// SetDestination builds a destination directive
func SetDestination(dest string) Directive {
	return Directive{Kind: KindSetDestination, Destination: dest}
}

// SetThreshold builds a threshold directive
func SetThreshold(q models.Quantity, t alerts.Threshold) Directive {
	return Directive{Kind: KindSetThreshold, Quantity: q, Threshold: t}
}

func (d Directive) String() string {
	switch d.Kind {
	case KindSetDestination:
		return fmt.Sprintf("set destination %q", d.Destination)
	case KindSetThreshold:
		return fmt.Sprintf("set %s threshold %s", d.Quantity, d.Threshold.Describe())
	default:
		return string(d.Kind)
	}
}
