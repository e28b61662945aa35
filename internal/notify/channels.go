package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"coldwatch/internal/alerts"
	"coldwatch/internal/transport"
)

// Channel names
const (
	ChannelPubSub = "pubsub"
	ChannelSMS    = "sms"
	ChannelCall   = "call"
)

var (
	// ErrNoDestination is returned by point-to-point channels when no destination is configured
	ErrNoDestination = errors.New("no notification destination configured")
	// ErrNotApplicable is returned when a channel does not handle the event kind
	ErrNotApplicable = errors.New("channel not applicable to event")
)

// Channel delivers a rendered event through one transport
type Channel interface {
	Send(ctx context.Context, ev *alerts.Event, dest string) error
}

// ChannelFunc adapts a function to Channel
type ChannelFunc func(ctx context.Context, ev *alerts.Event, dest string) error

func (f ChannelFunc) Send(ctx context.Context, ev *alerts.Event, dest string) error {
	return f(ctx, ev, dest)
}

// PubSub publishes the event as JSON on topic
func PubSub(pub transport.Publisher, topic string) Channel {
	return ChannelFunc(func(ctx context.Context, ev *alerts.Event, _ string) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		return pub.Publish(ctx, topic, payload)
	})
}

// SMS sends the event message text to the destination
func SMS(sender transport.TextSender) Channel {
	return ChannelFunc(func(ctx context.Context, ev *alerts.Event, dest string) error {
		if dest == "" {
			return ErrNoDestination
		}
		return sender.SendText(ctx, dest, ev.Message)
	})
}

// Call places an emergency voice call when an alert is raised
func Call(caller transport.Caller) Channel {
	return ChannelFunc(func(ctx context.Context, ev *alerts.Event, dest string) error {
		if ev.Kind != alerts.EventAlertRaised {
			return ErrNotApplicable
		}
		if dest == "" {
			return ErrNoDestination
		}
		return caller.PlaceCall(ctx, dest)
	})
}
