// Package transport declares the collaborator contracts the agent talks to.
// Implementations live in the kafka, bus and modem packages.
package transport

import (
	"context"
	"fmt"

	"coldwatch/internal/models"
)

// Publisher sends a payload to a pub/sub topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscriber delivers messages from a topic into out until ctx is cancelled
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, out chan<- models.InboundMessage) error
}

// TextSender delivers a short text to a point-to-point destination
type TextSender interface {
	SendText(ctx context.Context, dest, body string) error
}

// Caller places a voice call to a destination
type Caller interface {
	PlaceCall(ctx context.Context, dest string) error
}

// Topics are the per-device pub/sub subjects
type Topics struct {
	Data     string
	Commands string
	Alerts   string
}

// TopicsFor derives the topics for a device. Dots are used as separators so
// the names are valid for both Kafka and NATS.
func TopicsFor(deviceID string) Topics {
	base := fmt.Sprintf("%s.cold_storage", deviceID)
	return Topics{
		Data:     base + ".data",
		Commands: base + ".commands",
		Alerts:   base + ".alerts",
	}
}
