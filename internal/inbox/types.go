// Package inbox is the core of the unified inbox: it resolves provider
// identities to canonical conversations, stores deduplicated messages across
// channels, tracks conversation activity, and routes outbound replies back to
// the right provider.
package inbox

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omniboxhq/omnibox/internal/channel"
)

// ErrConversationNotFound is returned when the conversation does not exist or
// belongs to another tenant. The two cases are indistinguishable on purpose.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrInvalidStatus is returned for an unknown conversation status value.
var ErrInvalidStatus = errors.New("invalid conversation status")

// ConversationStatus is the operator-facing lifecycle state.
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusArchived ConversationStatus = "archived"
	StatusBlocked  ConversationStatus = "blocked"
)

// ParseConversationStatus validates a raw status value.
func ParseConversationStatus(raw string) (ConversationStatus, error) {
	switch ConversationStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusActive:
		return StatusActive, nil
	case StatusArchived:
		return StatusArchived, nil
	case StatusBlocked:
		return StatusBlocked, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Direction marks who authored a message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"  // from the external contact
	DirectionOutbound Direction = "outbound" // from a tenant user
)

// Sender values for Conversation.LastMessageFrom.
const (
	FromContact = "contact"
	FromUser    = "user"
)

// Conversation is the canonical thread with one external contact on one
// channel. The (tenant, channel, external contact) triple is its identity.
type Conversation struct {
	ID                uuid.UUID              `json:"id"`
	TenantID          uuid.UUID              `json:"tenant_id"`
	Channel           channel.ChannelType    `json:"channel"`
	ExternalContactID string                 `json:"external_contact_id"`
	IntegrationID     *uuid.UUID             `json:"integration_id,omitempty"`
	Contact           channel.ContactProfile `json:"contact"`
	Status            ConversationStatus     `json:"status"`
	Tags              []string               `json:"tags"`
	Notes             string                 `json:"notes"`
	UnreadCount       int                    `json:"unread_count"`
	LastMessageAt     *time.Time             `json:"last_message_at,omitempty"`
	LastMessageFrom   string                 `json:"last_message_from,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// UnifiedMessage is one stored message in its canonical form, identical in
// shape for every channel and both directions.
type UnifiedMessage struct {
	ID                uuid.UUID              `json:"id"`
	TenantID          uuid.UUID              `json:"tenant_id"`
	ConversationID    uuid.UUID              `json:"conversation_id"`
	Channel           channel.ChannelType    `json:"channel"`
	ExternalMessageID string                 `json:"external_message_id"`
	Direction         Direction              `json:"direction"`
	Content           channel.Content        `json:"content"`
	Participant       channel.ContactProfile `json:"participant"`
	Status            channel.MessageStatus  `json:"status,omitempty"`
	ReplyTo           string                 `json:"reply_to,omitempty"`
	Metadata          map[string]any         `json:"metadata,omitempty"`
	OriginalTimestamp time.Time              `json:"original_timestamp"`
	CreatedAt         time.Time              `json:"created_at"`
}

// ConversationFilter narrows ListConversations.
type ConversationFilter struct {
	Status ConversationStatus
	Search string
	Limit  int
	Offset int
}

// MessageQuery narrows ListMessages.
type MessageQuery struct {
	Limit  int
	Offset int
	Before time.Time
}

// SendRequest is an operator reply to a conversation.
type SendRequest struct {
	Content  channel.Content `json:"content"`
	ReplyTo  string          `json:"reply_to,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// SendResult reports a dispatched outbound message.
type SendResult struct {
	MessageID         uuid.UUID `json:"message_id"`
	ExternalMessageID string    `json:"external_message_id"`
}

// DispatchError is a failed outbound send, classified with the adapter's
// provider-agnostic reason. Nothing is persisted for a failed send.
type DispatchError struct {
	Reason channel.SendReason
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("dispatch failed (%s): %v", e.Reason, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
