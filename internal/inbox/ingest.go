package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/omniboxhq/omnibox/internal/channel"
	"github.com/omniboxhq/omnibox/internal/event"
	"github.com/omniboxhq/omnibox/internal/integration"
)

// ErrParse marks an envelope-level webhook parse failure, the only ingest
// error the webhook surface turns into a 400.
var ErrParse = errors.New("malformed webhook payload")

// RouteResolver assigns an inbound route key to its integration.
type RouteResolver interface {
	LookupByRoute(ctx context.Context, channelType channel.ChannelType, routeKey string) (integration.Integration, error)
}

// Ingestor runs the inbound pipeline: parse, attribute to a tenant, resolve
// the conversation, append, track activity, publish.
type Ingestor struct {
	registry      *channel.Registry
	routes        RouteResolver
	conversations ConversationStore
	messages      MessageStore
	publisher     event.Publisher
	logger        *slog.Logger
}

// NewIngestor creates the inbound pipeline.
func NewIngestor(
	log *slog.Logger,
	registry *channel.Registry,
	routes RouteResolver,
	conversations ConversationStore,
	messages MessageStore,
	publisher event.Publisher,
) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		registry:      registry,
		routes:        routes,
		conversations: conversations,
		messages:      messages,
		publisher:     publisher,
		logger:        log.With(slog.String("service", "ingest")),
	}
}

// IngestWebhook processes one webhook body. routeFallback covers channels
// whose payload carries no route key (Telegram's secret-token header).
//
// Messages are processed independently: one failing message is logged and
// dropped without affecting the rest of the batch. Only an envelope-level
// parse failure is returned to the caller.
func (in *Ingestor) IngestWebhook(ctx context.Context, channelType channel.ChannelType, body []byte, routeFallback string) error {
	parser, ok := in.registry.GetParser(channelType)
	if !ok {
		return fmt.Errorf("%w: %s", channel.ErrUnsupportedChannel, channelType)
	}

	parsed, err := parser.ParseWebhook(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}

	for _, msg := range parsed.Messages {
		if err := in.ingestMessage(ctx, channelType, msg, routeFallback); err != nil {
			in.logger.Error("inbound message dropped",
				slog.String("channel", channelType.String()),
				slog.String("external_message_id", msg.ExternalMessageID),
				slog.Any("error", err),
			)
		}
	}
	for _, update := range parsed.Statuses {
		if err := in.applyStatus(ctx, channelType, update, routeFallback); err != nil {
			in.logger.Warn("status update dropped",
				slog.String("channel", channelType.String()),
				slog.String("external_message_id", update.ExternalMessageID),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

func (in *Ingestor) ingestMessage(ctx context.Context, channelType channel.ChannelType, msg channel.IncomingMessage, routeFallback string) error {
	integ, ok := in.lookupRoute(ctx, channelType, msg.RouteKey, routeFallback)
	if !ok {
		return nil
	}

	conv, err := in.conversations.Resolve(ctx, ResolveParams{
		TenantID:          integ.TenantID,
		Channel:           channelType,
		ExternalContactID: msg.ExternalContactID,
		IntegrationID:     integ.ID,
		Contact:           msg.Contact,
	})
	if err != nil {
		return err
	}

	stored, created, err := in.messages.Append(ctx, AppendParams{
		TenantID:          integ.TenantID,
		ConversationID:    conv.ID,
		Channel:           channelType,
		ExternalMessageID: msg.ExternalMessageID,
		Direction:         DirectionInbound,
		Content:           msg.Content,
		Participant:       msg.Contact,
		Metadata:          msg.Metadata,
		OriginalTimestamp: msg.Timestamp,
	})
	if err != nil {
		return err
	}
	if !created {
		// Provider redelivery. Already stored, counters already counted.
		in.logger.Debug("duplicate message ignored",
			slog.String("channel", channelType.String()),
			slog.String("external_message_id", msg.ExternalMessageID),
		)
		return nil
	}

	if err := in.conversations.OnInbound(ctx, conv.ID, msg.Timestamp); err != nil {
		in.logger.Error("inbound activity update failed",
			slog.String("conversation_id", conv.ID.String()),
			slog.Any("error", err),
		)
	}

	in.publish(ctx, event.New(integ.TenantID.String(), event.TypeMessageCreated, stored))
	return nil
}

func (in *Ingestor) applyStatus(ctx context.Context, channelType channel.ChannelType, update channel.StatusUpdate, routeFallback string) error {
	integ, ok := in.lookupRoute(ctx, channelType, update.RouteKey, routeFallback)
	if !ok {
		return nil
	}
	if err := in.messages.ApplyStatus(ctx, integ.TenantID, channelType, update.ExternalMessageID, update.Status); err != nil {
		return err
	}
	in.publish(ctx, event.New(integ.TenantID.String(), event.TypeMessageStatus, map[string]any{
		"external_message_id": update.ExternalMessageID,
		"status":              string(update.Status),
	}))
	return nil
}

// lookupRoute attributes a route key to an integration. An unknown route is
// not an error: the webhook may target an integration that was removed, and
// the provider must still get its 200.
func (in *Ingestor) lookupRoute(ctx context.Context, channelType channel.ChannelType, routeKey, routeFallback string) (integration.Integration, bool) {
	if routeKey == "" {
		routeKey = routeFallback
	}
	integ, err := in.routes.LookupByRoute(ctx, channelType, routeKey)
	if errors.Is(err, integration.ErrNotFound) {
		in.logger.Warn("no integration for inbound route, dropping",
			slog.String("channel", channelType.String()),
			slog.String("route_key", routeKey),
		)
		return integration.Integration{}, false
	}
	if err != nil {
		in.logger.Error("route lookup failed",
			slog.String("channel", channelType.String()),
			slog.Any("error", err),
		)
		return integration.Integration{}, false
	}
	return integ, true
}

func (in *Ingestor) publish(ctx context.Context, evt event.Event) {
	if in.publisher == nil {
		return
	}
	if err := in.publisher.Publish(ctx, evt); err != nil {
		in.logger.Warn("event publish failed", slog.Any("error", err))
	}
}
