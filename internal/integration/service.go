package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/omniboxhq/omnibox/internal/channel"
)

// ErrInvalidParams is returned when a create request fails validation.
var ErrInvalidParams = errors.New("invalid integration params")

// Service validates and persists integrations and answers route lookups for
// the webhook edge.
type Service struct {
	store    Store
	registry *channel.Registry
	logger   *slog.Logger
}

// NewService creates an integration service.
func NewService(log *slog.Logger, store Store, registry *channel.Registry) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		registry: registry,
		logger:   log.With(slog.String("service", "integration")),
	}
}

// Create registers a channel connection for a tenant.
func (s *Service) Create(ctx context.Context, params CreateParams) (Integration, error) {
	if params.TenantID == uuid.Nil {
		return Integration{}, fmt.Errorf("%w: tenant id is required", ErrInvalidParams)
	}
	channelType, err := s.registry.ParseChannelType(params.Channel.String())
	if err != nil {
		return Integration{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	params.Channel = channelType
	params.RouteKey = strings.TrimSpace(params.RouteKey)
	if params.RouteKey == "" {
		return Integration{}, fmt.Errorf("%w: route key is required", ErrInvalidParams)
	}
	params.DisplayName = strings.TrimSpace(params.DisplayName)

	record, err := s.store.Create(ctx, params)
	if err != nil {
		return Integration{}, err
	}
	s.logger.Info("integration created",
		slog.String("integration_id", record.ID.String()),
		slog.String("tenant_id", record.TenantID.String()),
		slog.String("channel", record.Channel.String()),
	)
	return record, nil
}

// Get returns one integration scoped to the tenant.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (Integration, error) {
	return s.store.GetByID(ctx, tenantID, id)
}

// List returns the tenant's integrations in creation order.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]Integration, error) {
	return s.store.ListByTenant(ctx, tenantID)
}

// Delete removes an integration. Conversations created through it survive.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	if err := s.store.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	s.logger.Info("integration deleted",
		slog.String("integration_id", id.String()),
		slog.String("tenant_id", tenantID.String()),
	)
	return nil
}

// LookupByRoute resolves an inbound webhook route key to its integration.
func (s *Service) LookupByRoute(ctx context.Context, channelType channel.ChannelType, routeKey string) (Integration, error) {
	routeKey = strings.TrimSpace(routeKey)
	if routeKey == "" {
		return Integration{}, ErrNotFound
	}
	return s.store.GetByRoute(ctx, channelType, routeKey)
}

// LookupByTenantChannel returns the tenant's integration for a channel, used
// when dispatching outbound messages.
func (s *Service) LookupByTenantChannel(ctx context.Context, tenantID uuid.UUID, channelType channel.ChannelType) (Integration, error) {
	return s.store.GetByTenantChannel(ctx, tenantID, channelType)
}
