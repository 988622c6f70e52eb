// Package event carries inbox activity to subscribers: the in-process hub
// feeding the tenant SSE stream and the optional AMQP bridge for external
// consumers.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names an inbox event kind. Values double as AMQP routing keys.
type Type string

const (
	TypeMessageCreated      Type = "message.created"
	TypeMessageStatus       Type = "message.status"
	TypeConversationUpdated Type = "conversation.updated"
)

// Event is one inbox occurrence scoped to a tenant.
type Event struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

// New stamps a fresh event.
func New(tenantID string, eventType Type, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Publisher delivers events to one sink. Implementations must tolerate slow
// or absent consumers without blocking ingestion.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}
