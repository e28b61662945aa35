package models

import (
	"time"

	"github.com/google/uuid"
)

// Source names the transport an inbound message arrived on
type Source string

const (
	SourceKafka Source = "kafka"
	SourceNATS  Source = "nats"
	SourceModem Source = "modem"
	SourceHTTP  Source = "http"
)

// InboundMessage wraps raw inbound text with ingestion metadata
type InboundMessage struct {
	ID         string    `json:"id"`
	Source     Source    `json:"source"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewInboundMessage creates a message from raw transport bytes
func NewInboundMessage(source Source, raw []byte) InboundMessage {
	return InboundMessage{
		ID:         uuid.New().String(),
		Source:     source,
		Text:       SanitizeText(raw),
		ReceivedAt: time.Now().UTC(),
	}
}
