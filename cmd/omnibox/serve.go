package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/omniboxhq/omnibox/internal/channel"
	"github.com/omniboxhq/omnibox/internal/channel/adapters/instagram"
	"github.com/omniboxhq/omnibox/internal/channel/adapters/messenger"
	"github.com/omniboxhq/omnibox/internal/channel/adapters/telegram"
	"github.com/omniboxhq/omnibox/internal/channel/adapters/whatsapp"
	"github.com/omniboxhq/omnibox/internal/config"
	"github.com/omniboxhq/omnibox/internal/db"
	"github.com/omniboxhq/omnibox/internal/event"
	"github.com/omniboxhq/omnibox/internal/handlers"
	"github.com/omniboxhq/omnibox/internal/inbox"
	"github.com/omniboxhq/omnibox/internal/integration"
	"github.com/omniboxhq/omnibox/internal/logger"
	"github.com/omniboxhq/omnibox/internal/server"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideChannelRegistry,
			provideIntegrationStore,
			provideIntegrationService,
			provideConversationStore,
			provideMessageStore,
			event.NewHub,
			providePublisher,
			provideIngestor,
			provideDispatcher,
			provideInboxService,
			provideHealthHandler,
			provideWebhookHandler,
			provideInboxHandler,
			provideIntegrationHandler,
			provideServer,
		),
		fx.Invoke(startServer),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Auth.JWTSecret == "" {
		return config.Config{}, fmt.Errorf("auth.jwt_secret is required")
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideChannelRegistry(log *slog.Logger, cfg config.Config) *channel.Registry {
	registry := channel.NewRegistry()

	waAdapter := whatsapp.New(log)
	msAdapter := messenger.New(log)
	igAdapter := instagram.New(log)
	if cfg.Channels.GraphBaseURL != "" {
		waAdapter.Graph().SetBaseURL(cfg.Channels.GraphBaseURL)
		msAdapter.Graph().SetBaseURL(cfg.Channels.GraphBaseURL)
		igAdapter.Graph().SetBaseURL(cfg.Channels.GraphBaseURL)
	}
	registry.MustRegister(waAdapter)
	registry.MustRegister(msAdapter)
	registry.MustRegister(igAdapter)
	registry.MustRegister(telegram.New(log))
	return registry
}

func provideIntegrationStore(conn *pgxpool.Pool) integration.Store {
	return integration.NewPostgresStore(conn)
}

func provideIntegrationService(log *slog.Logger, store integration.Store, registry *channel.Registry) *integration.Service {
	return integration.NewService(log, store, registry)
}

func provideConversationStore(conn *pgxpool.Pool) inbox.ConversationStore {
	return inbox.NewPostgresConversationStore(conn)
}

func provideMessageStore(conn *pgxpool.Pool) inbox.MessageStore {
	return inbox.NewPostgresMessageStore(conn)
}

func providePublisher(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, hub *event.Hub) (event.Publisher, error) {
	if !cfg.AMQP.Enabled() {
		return hub, nil
	}
	amqpPublisher, err := event.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	if err != nil {
		return nil, fmt.Errorf("amqp connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return amqpPublisher.Close() }})
	return event.NewFanout(log, hub, amqpPublisher), nil
}

func provideIngestor(log *slog.Logger, registry *channel.Registry, integrations *integration.Service, conversations inbox.ConversationStore, messages inbox.MessageStore, publisher event.Publisher) *inbox.Ingestor {
	return inbox.NewIngestor(log, registry, integrations, conversations, messages, publisher)
}

func provideDispatcher(log *slog.Logger, registry *channel.Registry, integrations *integration.Service, conversations inbox.ConversationStore, messages inbox.MessageStore, publisher event.Publisher) *inbox.Dispatcher {
	return inbox.NewDispatcher(log, registry, integrations, conversations, messages, publisher)
}

func provideInboxService(log *slog.Logger, registry *channel.Registry, integrations *integration.Service, conversations inbox.ConversationStore, messages inbox.MessageStore, publisher event.Publisher) *inbox.Service {
	return inbox.NewService(log, registry, integrations, conversations, messages, publisher)
}

func provideHealthHandler(log *slog.Logger) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log)
}

func provideWebhookHandler(log *slog.Logger, registry *channel.Registry, ingestor *inbox.Ingestor, cfg config.Config) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, registry, ingestor, cfg.Channels.MetaVerifyToken)
}

func provideInboxHandler(log *slog.Logger, service *inbox.Service, dispatcher *inbox.Dispatcher, hub *event.Hub) *handlers.InboxHandler {
	return handlers.NewInboxHandler(log, service, dispatcher, hub)
}

func provideIntegrationHandler(log *slog.Logger, service *integration.Service) *handlers.IntegrationHandler {
	return handlers.NewIntegrationHandler(log, service)
}

func provideServer(log *slog.Logger, cfg config.Config, healthHandler *handlers.HealthHandler, webhookHandler *handlers.WebhookHandler, inboxHandler *handlers.InboxHandler, integrationHandler *handlers.IntegrationHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, cfg.Auth.JWTSecret, healthHandler, webhookHandler, inboxHandler, integrationHandler)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting server", slog.String("addr", cfg.Server.Addr))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
