// Package integration manages per-tenant channel connections: the credential
// records that bind an external account (a WhatsApp number, a Facebook page, a
// Telegram bot) to a tenant, and the route lookup that assigns every inbound
// webhook to exactly one tenant.
package integration

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/omniboxhq/omnibox/internal/channel"
)

// ErrNotFound is returned when no integration matches the lookup.
var ErrNotFound = errors.New("integration not found")

// ErrRouteTaken is returned when another integration already claims the
// channel/route-key pair. Route keys must stay unique per channel or inbound
// webhooks could not be attributed to one tenant.
var ErrRouteTaken = errors.New("route key already registered for this channel")

// Integration binds one external messaging account to a tenant.
type Integration struct {
	ID          uuid.UUID           `json:"id"`
	TenantID    uuid.UUID           `json:"tenant_id"`
	Channel     channel.ChannelType `json:"channel"`
	RouteKey    string              `json:"route_key"`
	DisplayName string              `json:"display_name"`
	Credentials map[string]any      `json:"-"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Config converts the record into the credential envelope adapters consume.
func (i Integration) Config() channel.IntegrationConfig {
	return channel.IntegrationConfig{
		ID:          i.ID.String(),
		TenantID:    i.TenantID.String(),
		Channel:     i.Channel,
		RouteKey:    i.RouteKey,
		Credentials: i.Credentials,
	}
}

// CreateParams are the caller-supplied fields for a new integration.
type CreateParams struct {
	TenantID    uuid.UUID
	Channel     channel.ChannelType
	RouteKey    string
	DisplayName string
	Credentials map[string]any
}
