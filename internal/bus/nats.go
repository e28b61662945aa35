package bus

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("nats client is closed")

// Client publishes and subscribes over a single NATS connection
type Client struct {
	Conn *nats.Conn
}

// NewClient connects to url. Reconnects are unbounded so a flaky uplink
// does not terminate the agent.
func NewClient(url, name string) (*Client, error) {
	log := logger.WithComponent("nats")
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Client{Conn: conn}, nil
}

// Close drains pending messages and closes the connection
func (c *Client) Close() {
	if c.Conn != nil {
		_ = c.Conn.Drain()
		c.Conn.Close()
	}
}

// Publish sends payload on subject and flushes within ctx
func (c *Client) Publish(ctx context.Context, subject string, payload []byte) error {
	if c.Conn == nil || c.Conn.IsClosed() {
		return ErrClosed
	}
	if err := c.Conn.Publish(subject, payload); err != nil {
		return err
	}
	return c.Conn.FlushWithContext(ctx)
}

// Subscribe forwards messages on subject into out until ctx is cancelled
func (c *Client) Subscribe(ctx context.Context, subject string, out chan<- models.InboundMessage) error {
	if c.Conn == nil || c.Conn.IsClosed() {
		return ErrClosed
	}

	log := logger.WithComponent("nats")
	msgs := make(chan *nats.Msg, 64)
	sub, err := c.Conn.ChanSubscribe(subject, msgs)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	log.Info().Str("subject", subject).Msg("nats subscription started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("subject", subject).Msg("nats subscription stopped")
			return nil
		case m := <-msgs:
			msg := models.NewInboundMessage(models.SourceNATS, m.Data)
			select {
			case out <- msg:
				metrics.InboundMessagesTotal.WithLabelValues(string(models.SourceNATS), "queued").Inc()
				log.Debug().Str("message_id", msg.ID).Msg("command message queued")
			case <-ctx.Done():
				return nil
			}
		}
	}
}
