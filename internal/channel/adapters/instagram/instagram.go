// Package instagram implements the channel adapter for Instagram direct
// messaging. Instagram shares Messenger's webhook envelope and Send API but
// tags its envelope with a different subscription object.
package instagram

import (
	"context"
	"log/slog"

	"github.com/omniboxhq/omnibox/internal/channel"
	"github.com/omniboxhq/omnibox/internal/channel/adapters/metagraph"
)

// Type is the Instagram channel type.
const Type = channel.Instagram

const webhookObject = "instagram"

// Adapter implements channel.Adapter, channel.Parser, and channel.Sender for
// Instagram direct messages.
type Adapter struct {
	logger *slog.Logger
	graph  *metagraph.Client
}

// New creates an Instagram adapter.
func New(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "instagram")),
		graph:  metagraph.NewClient(log),
	}
}

// Graph exposes the underlying Graph client for tests.
func (a *Adapter) Graph() *metagraph.Client {
	return a.graph
}

// Type returns the Instagram channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Instagram channel metadata.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: Type, DisplayName: "Instagram"}
}

// ParseWebhook normalizes an Instagram messaging webhook body. The route key
// of each message is the receiving Instagram account id.
func (a *Adapter) ParseWebhook(body []byte) (channel.ParsedWebhook, error) {
	return metagraph.ParseMessagingWebhook(body, webhookObject, Type)
}

// Send delivers content through the Send API using the integration's access
// token and the contact's IGSID as target.
func (a *Adapter) Send(ctx context.Context, cfg channel.IntegrationConfig, target string, content channel.Content) (string, error) {
	return metagraph.SendMessaging(ctx, a.graph, cfg, target, content)
}
