package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps an inbound Quake webhook for downstream consumers.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	CompanyID     string          `json:"company_id,omitempty"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	ReceivedAt    time.Time       `json:"received_at"`
	Payload       json.RawMessage `json:"payload"`
}

// NewWebhookEnvelope builds an envelope for a verified webhook delivery.
// sentAt is the provider's X-Webhook-Timestamp.
func NewWebhookEnvelope(topic, eventType, companyID string, sentAt time.Time, payload []byte) *Envelope {
	return &Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		CompanyID:     companyID,
		Topic:         topic,
		EventType:     eventType,
		Version:       "1.0.0",
		Timestamp:     sentAt.UTC(),
		ReceivedAt:    time.Now().UTC(),
		Payload:       json.RawMessage(payload),
	}
}
