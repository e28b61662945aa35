package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

// Consumer reads command messages from Kafka using a consumer group
type Consumer struct {
	brokers []string
	groupID string
	backoff time.Duration
}

// NewConsumer creates a consumer for the given group
func NewConsumer(brokers []string, groupID string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if groupID == "" {
		return nil, errors.New("group id is required")
	}
	return &Consumer{brokers: brokers, groupID: groupID, backoff: time.Second}, nil
}

// Subscribe reads topic until ctx is cancelled and forwards each message
// as an InboundMessage. Read errors are logged and retried.
func (c *Consumer) Subscribe(ctx context.Context, topic string, out chan<- models.InboundMessage) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.brokers,
		GroupID:  c.groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	defer reader.Close()

	log := logger.WithComponent("kafka_consumer")
	log.Info().Str("topic", topic).Str("group_id", c.groupID).Msg("kafka consumer started")

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Str("topic", topic).Msg("kafka consumer stopped")
				return nil
			}
			log.Warn().Err(err).Str("topic", topic).Dur("backoff", c.backoff).Msg("kafka read failed")
			select {
			case <-time.After(c.backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		msg := models.NewInboundMessage(models.SourceKafka, m.Value)
		select {
		case out <- msg:
			metrics.InboundMessagesTotal.WithLabelValues(string(models.SourceKafka), "queued").Inc()
			log.Debug().
				Str("message_id", msg.ID).
				Int("partition", m.Partition).
				Int64("offset", m.Offset).
				Msg("command message queued")
		case <-ctx.Done():
			return nil
		}
	}
}
