package handlers

import (
	"net/http"

	"coldwatch/internal/alerts"
	"coldwatch/internal/settings"
)

// SettingsReader exposes the live configuration
type SettingsReader interface {
	Snapshot() settings.Settings
}

// ThresholdView is the JSON rendering of a threshold
type ThresholdView struct {
	Op     string  `json:"op"`
	Bound1 float64 `json:"bound1"`
	Bound2 float64 `json:"bound2,omitempty"`
	Limit  string  `json:"limit"`
}

func viewOf(t alerts.Threshold) ThresholdView {
	return ThresholdView{Op: t.Op.String(), Bound1: t.Bound1, Bound2: t.Bound2, Limit: t.Describe()}
}

// SettingsView is the JSON rendering of the live configuration
type SettingsView struct {
	Temperature ThresholdView `json:"temperature"`
	Humidity    ThresholdView `json:"humidity"`
	Destination string        `json:"destination"`
}

// Settings serves GET /settings
func Settings(live SettingsReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := live.Snapshot()
		writeJSON(w, http.StatusOK, SettingsView{
			Temperature: viewOf(s.Temperature),
			Humidity:    viewOf(s.Humidity),
			Destination: s.Destination,
		})
	}
}

// Status serves GET /status with whatever the provider reports
func Status(provider func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, provider())
	}
}

// Health serves GET /health. check returns nil when the agent is healthy.
func Health(check func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := check(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
