package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"coldwatch/internal/config"
	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
)

// Producer errors
var (
	ErrProducerClosed = errors.New("producer is closed")
	ErrEmptyTopic     = errors.New("topic is required")
)

// Producer is a Kafka producer with a writer pool and retry.
// The topic is chosen per message so one producer serves every device topic.
type Producer struct {
	cfg      config.ProducerConfig
	brokers  []string
	deviceID string
	writers  []*kafka.Writer
	pool     chan *kafka.Writer
	closed   atomic.Bool

	// Metrics
	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
	bytesWritten   atomic.Uint64
}

// ProducerOption is a functional option for configuring the producer
type ProducerOption func(*Producer)

// WithDeviceID keys and tags every message with the device ID
func WithDeviceID(id string) ProducerOption {
	return func(p *Producer) { p.deviceID = id }
}

// NewProducer creates a new Kafka producer with the given configuration
func NewProducer(brokers []string, cfg config.ProducerConfig, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}

	p := &Producer{
		cfg:     cfg,
		brokers: brokers,
		writers: make([]*kafka.Writer, cfg.PoolSize),
		pool:    make(chan *kafka.Writer, cfg.PoolSize),
	}

	for _, opt := range opts {
		opt(p)
	}

	compression := getCompression(cfg.Compression)

	for i := 0; i < cfg.PoolSize; i++ {
		writer := &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			BatchSize:              cfg.BatchSize,
			BatchTimeout:           cfg.BatchTimeout,
			WriteTimeout:           cfg.WriteTimeout,
			RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:            compression,
			MaxAttempts:            1, // retries are handled in publishWithRetry
			AllowAutoTopicCreation: true,
			Async:                  false,
		}
		p.writers[i] = writer
		p.pool <- writer
	}

	return p, nil
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// Publish sends payload to topic
func (p *Producer) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if topic == "" {
		return ErrEmptyTopic
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(p.deviceID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "device_id", Value: []byte(p.deviceID)},
		},
		Time: time.Now().UTC(),
	}

	var writer *kafka.Writer
	select {
	case writer = <-p.pool:
		defer func() { p.pool <- writer }()
	case <-ctx.Done():
		p.messagesFailed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
		return ctx.Err()
	}

	start := time.Now()
	err := p.publishWithRetry(ctx, writer, msg)
	metrics.KafkaPublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.messagesFailed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
		return err
	}

	p.messagesSent.Add(1)
	p.bytesWritten.Add(uint64(len(payload)))
	metrics.KafkaPublishTotal.WithLabelValues("success").Inc()
	metrics.KafkaBytesWritten.Add(float64(len(payload)))
	return nil
}

// publishWithRetry publishes a single message with exponential backoff retry
func (p *Producer) publishWithRetry(ctx context.Context, writer *kafka.Writer, msg kafka.Message) error {
	log := logger.WithComponent("kafka_producer")
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(p.cfg.RetryBackoff, attempt)
			log.Warn().
				Int("attempt", attempt).
				Str("topic", msg.Topic).
				Dur("backoff", delay).
				Msg("retrying kafka publish")

			metrics.KafkaPublishRetries.Inc()

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		err := writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("topic", msg.Topic).
			Msg("kafka publish attempt failed")

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	log.Error().
		Err(lastErr).
		Int("max_retries", p.cfg.MaxRetries+1).
		Str("topic", msg.Topic).
		Msg("kafka publish failed after all retries")

	return fmt.Errorf("failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// maxRetryDelay bounds the doubling backoff; the device may sit offline for hours
const maxRetryDelay = 30 * time.Second

// retryDelay doubles base for every attempt after the first
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

// Close closes all writers in the pool
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	var errs []error
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
		BytesWritten:   p.bytesWritten.Load(),
	}
}

// ProducerStats holds producer metrics
type ProducerStats struct {
	MessagesSent   uint64 `json:"messages_sent"`
	MessagesFailed uint64 `json:"messages_failed"`
	BytesWritten   uint64 `json:"bytes_written"`
}

// HealthCheck succeeds when any broker accepts a connection
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	var errs []error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", broker, err))
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", errors.Join(errs...))
}
