package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

// ErrPanic is reported for a message whose handler panicked
var ErrPanic = errors.New("handler panicked")

// Handler processes one inbound message
type Handler interface {
	Handle(ctx context.Context, msg models.InboundMessage) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, msg models.InboundMessage) error

func (f HandlerFunc) Handle(ctx context.Context, msg models.InboundMessage) error {
	return f(ctx, msg)
}

// Pool manages workers that drain inbound messages into a handler
type Pool struct {
	handler       Handler
	messages      <-chan models.InboundMessage
	workers       int
	handleTimeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	processed atomic.Uint64
	failed    atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Handler       Handler
	Messages      <-chan models.InboundMessage
	Workers       int
	HandleTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		handler:       cfg.Handler,
		messages:      cfg.Messages,
		workers:       cfg.Workers,
		handleTimeout: cfg.HandleTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins processing messages
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.workers).
		Int("queue_capacity", cap(p.messages)).
		Msg("starting worker pool")

	metrics.WorkerQueueCapacity.Set(float64(cap(p.messages)))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop gracefully stops all workers. Messages already queued are handled
// before Stop returns.
func (p *Pool) Stop() {
	log := logger.WithComponent("worker_pool")
	log.Info().Msg("stopping worker pool")
	p.cancel()
	p.wg.Wait()
	log.Info().Msg("worker pool stopped")
}

// worker processes messages from the channel
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()
	log.Info().Msg("worker started")
	defer log.Info().Msg("worker stopped")

	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			return

		case msg, ok := <-p.messages:
			if !ok {
				return
			}
			p.process(p.ctx, msg)
		}
	}
}

// drain handles whatever is still buffered after cancellation
func (p *Pool) drain() {
	for {
		select {
		case msg, ok := <-p.messages:
			if !ok {
				return
			}
			p.process(context.Background(), msg)
		default:
			return
		}
	}
}

// process runs the handler for one message, recovering from panics
func (p *Pool) process(parent context.Context, msg models.InboundMessage) {
	log := logger.WithComponent("worker")
	metrics.WorkerQueueSize.Set(float64(len(p.messages)))

	ctx, cancel := context.WithTimeout(parent, p.handleTimeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Str("message_id", msg.ID).
					Msg("worker panic recovered")
				metrics.PanicsRecovered.WithLabelValues("worker").Inc()
				err = ErrPanic
			}
		}()
		return p.handler.Handle(ctx, msg)
	}()

	if err != nil {
		p.failed.Add(1)
		metrics.WorkerFailedTotal.Inc()
		log.Error().
			Err(err).
			Str("message_id", msg.ID).
			Str("source", string(msg.Source)).
			Dur("duration", time.Since(start)).
			Msg("failed to handle message")
		return
	}

	p.processed.Add(1)
	metrics.WorkerProcessedTotal.Inc()
	log.Debug().
		Str("message_id", msg.ID).
		Str("source", string(msg.Source)).
		Dur("duration", time.Since(start)).
		Msg("message handled")
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Queued:    len(p.messages),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Queued    int    `json:"queued"`
}
