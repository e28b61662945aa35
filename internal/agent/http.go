package agent

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coldwatch/internal/handlers"
	"coldwatch/internal/middleware"
	"coldwatch/internal/models"
	"coldwatch/internal/worker"
)

// StatusReport is served on /status
type StatusReport struct {
	DeviceID  string           `json:"device_id"`
	Latch     string           `json:"latch"`
	Readings  *models.Readings `json:"readings,omitempty"`
	Channels  []string         `json:"channels"`
	Worker    worker.Stats     `json:"worker"`
	Publisher any              `json:"publisher,omitempty"`
	Uptime    string           `json:"uptime"`
}

// Status assembles the current status report
func (a *Agent) Status() StatusReport {
	rep := StatusReport{
		DeviceID: a.deviceID,
		Latch:    a.engine.State().String(),
		Channels: a.dispatcher.Channels(),
		Worker:   a.workerPool.Stats(),
		Uptime:   time.Since(a.started).Round(time.Second).String(),
	}
	if r, ok := a.LastReadings(); ok {
		rep.Readings = &r
	}
	if a.deps.PublisherStats != nil {
		rep.Publisher = a.deps.PublisherStats()
	}
	return rep
}

// Router builds the admin HTTP routes
func (a *Agent) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery, middleware.Logging)

	r.Get("/health", handlers.Health(a.healthy))
	r.Get("/status", handlers.Status(func() any { return a.Status() }))
	r.Get("/settings", handlers.Settings(a.live))
	r.Method(http.MethodPost, "/commands", handlers.NewCommandHandler(handlers.CommandConfig{Queue: a.queue}))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (a *Agent) healthy() error {
	if a.deps.HealthCheck == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.deps.HealthCheck(ctx)
}
