package command

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"coldwatch/internal/alerts"
	"coldwatch/internal/models"
)

// DestinationCapacity is the size of the destination buffer, terminator included.
// A captured destination must be longer than 3 and shorter than DestinationCapacity-1.
const DestinationCapacity = 32

const (
	minDestinationLen = 3

	destinationMarker = "#+"
	terminator        = "#"
	temperatureMarker = "#temp:"
	humidityMarker    = "#hum:"
)

// number matches a decimal float with optional sign and exponent
const number = `\s*([+-]?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][+-]?\d+)?)\s*`

// form is one accepted threshold grammar, anchored at the end of a marker
type form struct {
	op alerts.Operator
	re *regexp.Regexp
}

// thresholdForms are tried in order; the first structural match wins
var thresholdForms = []form{
	{op: alerts.InRange, re: regexp.MustCompile(`^(?i:R),` + number + `,` + number + terminator)},
	{op: alerts.GreaterThan, re: regexp.MustCompile(`^(?i:GT),` + number + terminator)},
	{op: alerts.LessThan, re: regexp.MustCompile(`^(?i:LT),` + number + terminator)},
}

// thresholdMarkers maps each threshold marker to the quantity it configures
var thresholdMarkers = []struct {
	marker   string
	quantity models.Quantity
}{
	{temperatureMarker, models.QuantityTemperature},
	{humidityMarker, models.QuantityHumidity},
}

// Report is the full outcome of scanning a buffer
type Report struct {
	Directives []Directive
	// Ignored lists markers that were present but did not form a valid command
	Ignored []string
}

// Parse scans arbitrary text for commands and returns the decoded directives
// in the order destination, temperature, humidity. Only the first occurrence of
// each marker is honored. Parse never fails; unrecognized fragments are dropped.
func Parse(text string) []Directive {
	return Scan(text).Directives
}

// Scan is Parse plus the list of markers that were found but dropped
func Scan(text string) Report {
	var r Report

	if strings.Contains(text, destinationMarker) {
		if d, ok := parseDestination(text); ok {
			r.Directives = append(r.Directives, d)
		} else {
			r.Ignored = append(r.Ignored, destinationMarker)
		}
	}

	for _, m := range thresholdMarkers {
		idx := strings.Index(text, m.marker)
		if idx < 0 {
			continue
		}
		if t, ok := parseThreshold(text[idx+len(m.marker):]); ok {
			r.Directives = append(r.Directives, SetThreshold(m.quantity, t))
		} else {
			r.Ignored = append(r.Ignored, m.marker)
		}
	}

	return r
}

// parseDestination captures the text between the first "#+" and the next "#"
func parseDestination(text string) (Directive, bool) {
	idx := strings.Index(text, destinationMarker)
	if idx < 0 {
		return Directive{}, false
	}
	rest := text[idx+len(destinationMarker):]

	end := strings.Index(rest, terminator)
	if end < 0 {
		return Directive{}, false
	}

	captured := rest[:end]
	if len(captured) <= minDestinationLen || len(captured) >= DestinationCapacity-1 {
		return Directive{}, false
	}
	return SetDestination(captured), true
}

// parseThreshold tries each form against the text following a marker
func parseThreshold(rest string) (alerts.Threshold, bool) {
	for _, f := range thresholdForms {
		m := f.re.FindStringSubmatch(rest)
		if m == nil {
			continue
		}

		b1, ok := parseNumber(m[1])
		if !ok {
			continue
		}
		t := alerts.Threshold{Op: f.op, Bound1: b1}

		if f.op == alerts.InRange {
			b2, ok := parseNumber(m[2])
			if !ok {
				continue
			}
			t.Bound2 = b2
		}
		return t, true
	}
	return alerts.Threshold{}, false
}

// parseNumber rejects values that overflow to infinity
func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
