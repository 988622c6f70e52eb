// Package channel defines the canonical, channel-agnostic message model and the
// adapter contract for external messaging platforms (WhatsApp, Instagram,
// Messenger, Telegram). Provider payloads are normalized into these types at the
// edge; everything behind the webhook entrypoint works only with them.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging platform (e.g., "whatsapp", "telegram").
type ChannelType string

const (
	WhatsApp  ChannelType = "whatsapp"
	Instagram ChannelType = "instagram"
	Messenger ChannelType = "messenger"
	Telegram  ChannelType = "telegram"
)

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// ContentType tags the canonical content union.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentAudio    ContentType = "audio"
	ContentDocument ContentType = "document"
	ContentSticker  ContentType = "sticker"
	ContentLocation ContentType = "location"
	ContentContact  ContentType = "contact"
	ContentOther    ContentType = "other"
)

// Content is the unified message content. Each variant uses only the fields
// relevant to its type; everything else stays zero and is omitted from JSON.
type Content struct {
	Type         ContentType    `json:"type"`
	Text         string         `json:"text,omitempty"`
	MediaURL     string         `json:"media_url,omitempty"`
	MediaType    string         `json:"media_type,omitempty"`
	Caption      string         `json:"caption,omitempty"`
	FileName     string         `json:"file_name,omitempty"`
	Latitude     float64        `json:"latitude,omitempty"`
	Longitude    float64        `json:"longitude,omitempty"`
	ContactName  string         `json:"contact_name,omitempty"`
	ContactPhone string         `json:"contact_phone,omitempty"`
	Raw          map[string]any `json:"raw,omitempty"`
}

// IsEmpty reports whether the content carries nothing deliverable.
func (c Content) IsEmpty() bool {
	switch c.Type {
	case ContentText:
		return strings.TrimSpace(c.Text) == ""
	case ContentLocation:
		return c.Latitude == 0 && c.Longitude == 0
	case ContentContact:
		return strings.TrimSpace(c.ContactName) == "" && strings.TrimSpace(c.ContactPhone) == ""
	case "":
		return true
	default:
		return strings.TrimSpace(c.MediaURL) == "" && len(c.Raw) == 0 && strings.TrimSpace(c.Caption) == ""
	}
}

// ContactProfile is a snapshot of the external contact as the provider reports
// it. Only non-empty fields are meaningful; merges must never erase known data
// with blanks.
type ContactProfile struct {
	Name           string         `json:"name,omitempty"`
	Username       string         `json:"username,omitempty"`
	PhoneNumber    string         `json:"phone_number,omitempty"`
	ProfilePicture string         `json:"profile_picture,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MessageStatus is the provider-facing delivery state of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank orders forward-only delivery transitions. Failed is terminal and
// reachable from anywhere.
var statusRank = map[MessageStatus]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// AllowsTransition reports whether moving from s to next is a valid
// forward-only status transition.
func (s MessageStatus) AllowsTransition(next MessageStatus) bool {
	if next == StatusFailed {
		return s != StatusFailed
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// ParseMessageStatus validates a raw provider status string.
func ParseMessageStatus(raw string) (MessageStatus, bool) {
	switch MessageStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusSent:
		return StatusSent, true
	case StatusDelivered:
		return StatusDelivered, true
	case StatusRead:
		return StatusRead, true
	case StatusFailed:
		return StatusFailed, true
	}
	return "", false
}

// IncomingMessage is one provider message normalized out of a webhook payload.
type IncomingMessage struct {
	Channel           ChannelType
	ExternalMessageID string
	ExternalContactID string
	// RouteKey identifies which integration the message belongs to
	// (WhatsApp phone-number id, Meta page id). Empty when the channel
	// routes out-of-band (Telegram secret-token header).
	RouteKey  string
	Content   Content
	Contact   ContactProfile
	Timestamp time.Time
	Metadata  map[string]any
}

// StatusUpdate is a provider delivery receipt for a previously sent message.
type StatusUpdate struct {
	ExternalMessageID string
	RouteKey          string
	Status            MessageStatus
	Timestamp         time.Time
}

// ParsedWebhook is the result of normalizing one webhook HTTP body. A single
// body may batch several messages and receipts; each is processed
// independently downstream.
type ParsedWebhook struct {
	Messages []IncomingMessage
	Statuses []StatusUpdate
}

// IntegrationConfig is the uniform credential envelope handed to adapters.
// Credential shapes are channel-specific and opaque to the core.
type IntegrationConfig struct {
	ID          string
	TenantID    string
	Channel     ChannelType
	RouteKey    string
	Credentials map[string]any
}

// Credential returns the trimmed string credential for the given key, or empty
// string if absent or not a string.
func (c IntegrationConfig) Credential(key string) string {
	if c.Credentials == nil {
		return ""
	}
	value, _ := c.Credentials[key].(string)
	return strings.TrimSpace(value)
}
