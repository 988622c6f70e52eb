package inbox

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/omniboxhq/omnibox/internal/channel"
	"github.com/omniboxhq/omnibox/internal/event"
)

// Service answers inbox queries and operator conversation actions.
type Service struct {
	registry      *channel.Registry
	integrations  IntegrationSource
	conversations ConversationStore
	messages      MessageStore
	publisher     event.Publisher
	logger        *slog.Logger
}

// NewService creates the inbox query/action service.
func NewService(
	log *slog.Logger,
	registry *channel.Registry,
	integrations IntegrationSource,
	conversations ConversationStore,
	messages MessageStore,
	publisher event.Publisher,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		registry:      registry,
		integrations:  integrations,
		conversations: conversations,
		messages:      messages,
		publisher:     publisher,
		logger:        log.With(slog.String("service", "inbox")),
	}
}

// ListConversations returns the tenant's conversations ordered by most recent
// activity.
func (s *Service) ListConversations(ctx context.Context, tenantID uuid.UUID, filter ConversationFilter) ([]Conversation, error) {
	if filter.Status != "" {
		status, err := ParseConversationStatus(string(filter.Status))
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}
	return s.conversations.List(ctx, tenantID, filter)
}

// GetConversation returns one conversation scoped to the tenant.
func (s *Service) GetConversation(ctx context.Context, tenantID, conversationID uuid.UUID) (Conversation, error) {
	return s.conversations.Get(ctx, tenantID, conversationID)
}

// ListMessages returns a conversation's messages in original-timestamp order.
func (s *Service) ListMessages(ctx context.Context, tenantID, conversationID uuid.UUID, query MessageQuery) ([]UnifiedMessage, error) {
	// Scope check first: an empty conversation and a foreign conversation
	// must be distinguishable.
	if _, err := s.conversations.Get(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	return s.messages.List(ctx, tenantID, conversationID, query)
}

// UpdateStatus changes the conversation lifecycle state, tags, or notes.
// Empty status and nil tags/notes leave the respective fields unchanged.
func (s *Service) UpdateStatus(ctx context.Context, tenantID, conversationID uuid.UUID, statusRaw string, tags []string, notes *string) (Conversation, error) {
	var status ConversationStatus
	if statusRaw != "" {
		parsed, err := ParseConversationStatus(statusRaw)
		if err != nil {
			return Conversation{}, err
		}
		status = parsed
	}

	conv, err := s.conversations.UpdateStatus(ctx, tenantID, conversationID, status, tags, notes)
	if err != nil {
		return Conversation{}, err
	}
	s.publish(ctx, event.New(tenantID.String(), event.TypeConversationUpdated, conv))
	return conv, nil
}

// MarkRead zeroes the unread counter and, where the channel supports it,
// reports the read receipt back to the provider. The provider call is
// best-effort: its failure never fails the operation.
func (s *Service) MarkRead(ctx context.Context, tenantID, conversationID uuid.UUID) error {
	if err := s.conversations.MarkRead(ctx, tenantID, conversationID); err != nil {
		return err
	}
	s.notifyProviderRead(ctx, tenantID, conversationID)

	conv, err := s.conversations.Get(ctx, tenantID, conversationID)
	if err == nil {
		s.publish(ctx, event.New(tenantID.String(), event.TypeConversationUpdated, conv))
	}
	return nil
}

func (s *Service) notifyProviderRead(ctx context.Context, tenantID, conversationID uuid.UUID) {
	conv, err := s.conversations.Get(ctx, tenantID, conversationID)
	if err != nil {
		return
	}
	notifier, ok := s.registry.GetReadNotifier(conv.Channel)
	if !ok {
		return
	}
	integ, err := s.integrations.LookupByTenantChannel(ctx, tenantID, conv.Channel)
	if err != nil {
		return
	}
	last, err := s.messages.LastInbound(ctx, tenantID, conversationID)
	if err != nil {
		if !errors.Is(err, ErrConversationNotFound) {
			s.logger.Warn("last inbound lookup failed", slog.Any("error", err))
		}
		return
	}
	if err := notifier.MarkRead(ctx, integ.Config(), last.ExternalMessageID); err != nil {
		s.logger.Warn("provider read receipt failed",
			slog.String("channel", conv.Channel.String()),
			slog.Any("error", err),
		)
	}
}

func (s *Service) publish(ctx context.Context, evt event.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("event publish failed", slog.Any("error", err))
	}
}
