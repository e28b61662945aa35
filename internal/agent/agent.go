// Package agent coordinates the monitoring loop, command ingestion and
// the admin HTTP server.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"coldwatch/internal/alerts"
	"coldwatch/internal/config"
	"coldwatch/internal/logger"
	"coldwatch/internal/models"
	"coldwatch/internal/notify"
	"coldwatch/internal/sensor"
	"coldwatch/internal/settings"
	"coldwatch/internal/state"
	"coldwatch/internal/transport"
	"coldwatch/internal/worker"
)

// Modem is the point-to-point transport: outbound SMS and calls plus
// inbound SMS delivery
type Modem interface {
	transport.TextSender
	transport.Caller
	Listen(ctx context.Context, out chan<- models.InboundMessage) error
}

// Deps are the collaborators the agent does not own. The caller opens and
// closes them.
type Deps struct {
	Sensors sensor.Source
	Store   state.Store

	// Optional transports; nil disables the feature
	Publisher  transport.Publisher
	Subscriber transport.Subscriber
	Modem      Modem

	// Optional hooks for the admin endpoints
	HealthCheck    func(ctx context.Context) error
	PublisherStats func() any
}

// Agent is the high-level coordinator
type Agent struct {
	cfg      *config.Config
	deviceID string
	topics   transport.Topics
	deps     Deps

	live       *settings.Live
	engine     *alerts.Engine
	dispatcher *notify.Dispatcher
	queue      chan models.InboundMessage
	workerPool *worker.Pool
	httpServer *http.Server
	started    time.Time

	mu   sync.RWMutex
	last *models.Readings

	wg sync.WaitGroup
}

// New loads persisted settings and wires the components
func New(ctx context.Context, cfg *config.Config, deviceID string, deps Deps) (*Agent, error) {
	if deps.Sensors == nil {
		return nil, errors.New("sensor source is required")
	}
	if deps.Store == nil {
		return nil, errors.New("settings store is required")
	}

	store := settings.NewStore(deps.Store, cfg.Storage.Timeout)
	live := settings.NewLive(store.Load(ctx), store)

	a := &Agent{
		cfg:      cfg,
		deviceID: deviceID,
		topics:   transport.TopicsFor(deviceID),
		deps:     deps,
		live:     live,
		engine:   alerts.NewEngine(live),
		queue:    make(chan models.InboundMessage, cfg.Agent.QueueSize),
		started:  time.Now(),
	}
	a.dispatcher = notify.NewDispatcher(a.channels(), cfg.Notify.ChannelTimeout)
	a.workerPool = worker.NewPool(worker.Config{
		Handler:       worker.HandlerFunc(a.handleMessage),
		Messages:      a.queue,
		Workers:       cfg.Agent.Workers,
		HandleTimeout: cfg.Storage.Timeout * 3,
	})
	return a, nil
}

// channels builds the enabled notification channels from what is available
func (a *Agent) channels() map[string]notify.Channel {
	log := logger.WithComponent("agent")
	out := make(map[string]notify.Channel)

	for _, name := range a.cfg.Notify.Channels {
		switch {
		case name == notify.ChannelPubSub && a.deps.Publisher != nil:
			out[name] = notify.PubSub(a.deps.Publisher, a.topics.Alerts)
		case name == notify.ChannelSMS && a.deps.Modem != nil:
			out[name] = notify.SMS(a.deps.Modem)
		case name == notify.ChannelCall && a.deps.Modem != nil:
			out[name] = notify.Call(a.deps.Modem)
		default:
			log.Warn().Str("channel", name).Msg("notification channel enabled but its transport is not configured")
		}
	}
	return out
}

// Live exposes the shared configuration
func (a *Agent) Live() *settings.Live { return a.live }

// Engine exposes the alert latch
func (a *Agent) Engine() *alerts.Engine { return a.engine }

// Queue is where transports deliver inbound messages
func (a *Agent) Queue() chan<- models.InboundMessage { return a.queue }

// Run starts background goroutines and blocks until ctx is cancelled
func (a *Agent) Run(ctx context.Context) error {
	log := logger.WithComponent("agent")
	log.Info().
		Str("device_id", a.deviceID).
		Dur("cycle_interval", a.cfg.Agent.CycleInterval).
		Strs("channels", a.dispatcher.Channels()).
		Msg("agent starting")

	a.workerPool.Start()

	if a.cfg.HTTP.Enabled() {
		a.httpServer = &http.Server{
			Addr:         a.cfg.HTTP.Addr,
			Handler:      a.Router(),
			ReadTimeout:  a.cfg.HTTP.ReadTimeout,
			WriteTimeout: a.cfg.HTTP.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			log.Info().Str("addr", a.cfg.HTTP.Addr).Msg("starting HTTP server")
			if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}

	var inbound sync.WaitGroup
	if a.deps.Subscriber != nil {
		inbound.Add(1)
		go func() {
			defer inbound.Done()
			if err := a.deps.Subscriber.Subscribe(ctx, a.topics.Commands, a.queue); err != nil {
				log.Error().Err(err).Str("topic", a.topics.Commands).Msg("command subscription ended")
			}
		}()
	}
	if a.deps.Modem != nil {
		inbound.Add(1)
		go func() {
			defer inbound.Done()
			if err := a.deps.Modem.Listen(ctx, a.queue); err != nil {
				log.Error().Err(err).Msg("modem listener ended")
			}
		}()
	}

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		a.evaluationLoop(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.telemetryLoop(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return a.shutdown(&inbound)
}

// shutdown performs graceful shutdown
func (a *Agent) shutdown(inbound *sync.WaitGroup) error {
	log := logger.WithComponent("agent")
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Agent.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		log.Info().Msg("stopping HTTP server")
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	// transports stop on ctx; wait so nothing is queued after the pool drains
	inbound.Wait()

	done := make(chan struct{})
	go func() {
		a.workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("workers stopped gracefully")
	case <-shutdownCtx.Done():
		log.Warn().Msg("worker shutdown timeout - forcing exit")
	}

	a.wg.Wait()

	log.Info().Msg("agent stopped gracefully")
	return errors.Join(errs...)
}
