package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/omniboxhq/omnibox/internal/channel"
	"github.com/omniboxhq/omnibox/internal/event"
	"github.com/omniboxhq/omnibox/internal/integration"
)

// IntegrationSource finds the tenant's integration for the outbound path.
type IntegrationSource interface {
	LookupByTenantChannel(ctx context.Context, tenantID uuid.UUID, channelType channel.ChannelType) (integration.Integration, error)
}

// Dispatcher routes operator replies back through the conversation's origin
// channel. A failed provider send writes nothing: the inbox never records an
// outbound message the contact could not have received.
type Dispatcher struct {
	registry      *channel.Registry
	integrations  IntegrationSource
	conversations ConversationStore
	messages      MessageStore
	publisher     event.Publisher
	logger        *slog.Logger
}

// NewDispatcher creates the outbound router.
func NewDispatcher(
	log *slog.Logger,
	registry *channel.Registry,
	integrations IntegrationSource,
	conversations ConversationStore,
	messages MessageStore,
	publisher event.Publisher,
) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		registry:      registry,
		integrations:  integrations,
		conversations: conversations,
		messages:      messages,
		publisher:     publisher,
		logger:        log.With(slog.String("service", "dispatch")),
	}
}

// Send delivers one reply into a conversation. Order of operations matters:
// provider send first, persistence only after the provider accepted. There
// are no automatic retries; a transient failure surfaces to the caller who
// decides whether to resend.
func (d *Dispatcher) Send(ctx context.Context, tenantID, conversationID uuid.UUID, req SendRequest) (SendResult, error) {
	if req.Content.IsEmpty() {
		return SendResult{}, &DispatchError{Reason: channel.ReasonRejected, Err: errors.New("content is empty")}
	}

	conv, err := d.conversations.Get(ctx, tenantID, conversationID)
	if err != nil {
		return SendResult{}, err
	}

	integ, err := d.integrations.LookupByTenantChannel(ctx, tenantID, conv.Channel)
	if errors.Is(err, integration.ErrNotFound) {
		return SendResult{}, &DispatchError{
			Reason: channel.ReasonNotConfigured,
			Err:    fmt.Errorf("no %s integration for tenant", conv.Channel),
		}
	}
	if err != nil {
		return SendResult{}, fmt.Errorf("integration lookup: %w", err)
	}

	sender, ok := d.registry.GetSender(conv.Channel)
	if !ok {
		return SendResult{}, &DispatchError{
			Reason: channel.ReasonNotConfigured,
			Err:    fmt.Errorf("channel %s cannot send", conv.Channel),
		}
	}

	externalID, err := sender.Send(ctx, integ.Config(), conv.ExternalContactID, req.Content)
	if err != nil {
		return SendResult{}, dispatchError(err)
	}

	now := time.Now().UTC()
	stored, created, err := d.messages.Append(ctx, AppendParams{
		TenantID:          tenantID,
		ConversationID:    conv.ID,
		Channel:           conv.Channel,
		ExternalMessageID: externalID,
		Direction:         DirectionOutbound,
		Content:           req.Content,
		Status:            channel.StatusSent,
		ReplyTo:           req.ReplyTo,
		Metadata:          req.Metadata,
		OriginalTimestamp: now,
	})
	if err != nil {
		// The provider accepted the message; surface the id even though
		// local persistence failed.
		return SendResult{ExternalMessageID: externalID}, fmt.Errorf("record outbound message: %w", err)
	}
	if !created {
		d.logger.Warn("provider returned an already-stored message id",
			slog.String("channel", conv.Channel.String()),
			slog.String("external_message_id", externalID),
		)
		return SendResult{ExternalMessageID: externalID}, nil
	}

	if err := d.conversations.OnOutbound(ctx, conv.ID, now); err != nil {
		d.logger.Error("outbound activity update failed",
			slog.String("conversation_id", conv.ID.String()),
			slog.Any("error", err),
		)
	}

	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, event.New(tenantID.String(), event.TypeMessageCreated, stored)); err != nil {
			d.logger.Warn("event publish failed", slog.Any("error", err))
		}
	}

	return SendResult{MessageID: stored.ID, ExternalMessageID: externalID}, nil
}

func dispatchError(err error) *DispatchError {
	var sendErr *channel.SendError
	if errors.As(err, &sendErr) {
		return &DispatchError{Reason: sendErr.Reason, Err: err}
	}
	return &DispatchError{Reason: channel.ReasonTransient, Err: err}
}
