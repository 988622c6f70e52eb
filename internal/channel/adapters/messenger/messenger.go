// Package messenger implements the channel adapter for Facebook Messenger
// page messaging on top of the shared Meta Graph plumbing.
package messenger

import (
	"context"
	"log/slog"

	"github.com/omniboxhq/omnibox/internal/channel"
	"github.com/omniboxhq/omnibox/internal/channel/adapters/metagraph"
)

// Type is the Messenger channel type.
const Type = channel.Messenger

const webhookObject = "page"

// Adapter implements channel.Adapter, channel.Parser, and channel.Sender for
// Messenger.
type Adapter struct {
	logger *slog.Logger
	graph  *metagraph.Client
}

// New creates a Messenger adapter.
func New(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "messenger")),
		graph:  metagraph.NewClient(log),
	}
}

// Graph exposes the underlying Graph client for tests.
func (a *Adapter) Graph() *metagraph.Client {
	return a.graph
}

// Type returns the Messenger channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Messenger channel metadata.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: Type, DisplayName: "Messenger"}
}

// ParseWebhook normalizes a page-messaging webhook body. The route key of
// each message is the receiving page id.
func (a *Adapter) ParseWebhook(body []byte) (channel.ParsedWebhook, error) {
	return metagraph.ParseMessagingWebhook(body, webhookObject, Type)
}

// Send delivers content through the page Send API using the integration's
// page access token and the contact's PSID as target.
func (a *Adapter) Send(ctx context.Context, cfg channel.IntegrationConfig, target string, content channel.Content) (string, error) {
	return metagraph.SendMessaging(ctx, a.graph, cfg, target, content)
}
