package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/omniboxhq/omnibox/internal/channel"
)

// ResolveParams identifies or creates a conversation for an inbound message.
type ResolveParams struct {
	TenantID          uuid.UUID
	Channel           channel.ChannelType
	ExternalContactID string
	IntegrationID     uuid.UUID
	Contact           channel.ContactProfile
}

// AppendParams is one message to persist.
type AppendParams struct {
	TenantID          uuid.UUID
	ConversationID    uuid.UUID
	Channel           channel.ChannelType
	ExternalMessageID string
	Direction         Direction
	Content           channel.Content
	Participant       channel.ContactProfile
	Status            channel.MessageStatus
	ReplyTo           string
	Metadata          map[string]any
	OriginalTimestamp time.Time
}

// ConversationStore persists conversations. All invariants that span
// concurrent webhooks (identity uniqueness, contact merge, counters) are
// enforced by single SQL statements, never read-modify-write.
type ConversationStore interface {
	// Resolve upserts on the identity triple. On conflict only the contact
	// snapshot is merged; status, counters, and notes stay untouched.
	Resolve(ctx context.Context, params ResolveParams) (Conversation, error)
	Get(ctx context.Context, tenantID, conversationID uuid.UUID) (Conversation, error)
	List(ctx context.Context, tenantID uuid.UUID, filter ConversationFilter) ([]Conversation, error)
	// OnInbound bumps the unread counter and activity pointers atomically.
	OnInbound(ctx context.Context, conversationID uuid.UUID, ts time.Time) error
	// OnOutbound moves activity pointers; unread stays.
	OnOutbound(ctx context.Context, conversationID uuid.UUID, ts time.Time) error
	MarkRead(ctx context.Context, tenantID, conversationID uuid.UUID) error
	UpdateStatus(ctx context.Context, tenantID, conversationID uuid.UUID, status ConversationStatus, tags []string, notes *string) (Conversation, error)
}

// MessageStore persists unified messages append-only.
type MessageStore interface {
	// Append inserts one message. A dedup-key conflict reports
	// created=false with no error and writes nothing.
	Append(ctx context.Context, params AppendParams) (UnifiedMessage, bool, error)
	List(ctx context.Context, tenantID, conversationID uuid.UUID, query MessageQuery) ([]UnifiedMessage, error)
	// LastInbound returns the newest inbound message of a conversation.
	LastInbound(ctx context.Context, tenantID, conversationID uuid.UUID) (UnifiedMessage, error)
	// ApplyStatus applies a provider delivery receipt, honoring
	// forward-only transitions. Unknown message ids are a no-op.
	ApplyStatus(ctx context.Context, tenantID uuid.UUID, channelType channel.ChannelType, externalMessageID string, status channel.MessageStatus) error
}
