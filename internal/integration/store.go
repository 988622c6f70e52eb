package integration

import (
	"context"

	"github.com/google/uuid"

	"github.com/omniboxhq/omnibox/internal/channel"
)

// Store persists integration records.
type Store interface {
	Create(ctx context.Context, params CreateParams) (Integration, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (Integration, error)
	// GetByRoute resolves an inbound webhook to its integration. It is the
	// only lookup that runs without a tenant scope: the webhook edge does
	// not know the tenant yet.
	GetByRoute(ctx context.Context, channelType channel.ChannelType, routeKey string) (Integration, error)
	GetByTenantChannel(ctx context.Context, tenantID uuid.UUID, channelType channel.ChannelType) (Integration, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Integration, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}
