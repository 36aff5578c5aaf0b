// Package app assembles the conversation stack from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"conversation-console/internal/api"
	"conversation-console/internal/config"
	"conversation-console/internal/db"
	"conversation-console/internal/observability"
	"conversation-console/internal/rabbitmq"
	"conversation-console/internal/repositories"
	"conversation-console/internal/reveal"
	"conversation-console/internal/session"
	"conversation-console/internal/telemetry"
	"conversation-console/internal/transport"
	"conversation-console/internal/view"
)

const serviceName = "conversation-console"

// App holds the wired components and everything that must be released on shutdown.
type App struct {
	Config    config.Config
	Sessions  *session.Manager
	Audit     *telemetry.AuditEmitter
	Publisher rabbitmq.Publisher
	Client    *api.Client

	db          *sqlx.DB
	redis       *reveal.RedisStore
	stopTracing func(context.Context) error
	logger      *slog.Logger
}

// New connects the optional infrastructure named by cfg and builds the
// session manager on top of it.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	if cfg.OTLPEndpoint != "" {
		stop, err := observability.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			a.stopTracing = stop
		}
	}

	a.Publisher = rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	observability.SetPublisher(a.Publisher)
	logger.Info("event publisher ready", "mode", rabbitmq.PublisherMode(a.Publisher), "reason", rabbitmq.PublisherNoopReason(a.Publisher))
	a.Audit = telemetry.NewAuditEmitter(a.Publisher, cfg.AuditRoutingKey, serviceName, cfg.Env, logger)

	var summaries repositories.SummaryRepository = repositories.NewMemorySummaryRepo()
	if cfg.DBDSN != "" {
		database, err := db.Connect(cfg.DBDSN, logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.db = database
		summaries = repositories.NewSummaryRepo(database)
	}

	var store reveal.Store = reveal.NewMemoryStore()
	if cfg.RevealStore == "redis" {
		rs, err := reveal.NewRedisStore(ctx, cfg.RedisURL, viewerNamespace(cfg))
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.redis = rs
		store = rs
	}

	client, err := api.NewClient(api.Config{
		BaseURL:       cfg.BaseURL.String(),
		SessionCookie: cfg.SessionCookie,
		CSRFToken:     cfg.CSRFToken,
		Timeout:       cfg.HTTPTimeout,
	}, nil, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("collaborator client: %w", err)
	}
	a.Client = client

	sessions, err := session.NewManager(session.Config{
		Viewer:         view.Viewer{Name: cfg.ViewerName, Email: cfg.ViewerEmail},
		BaseURL:        client.BaseURL(),
		FallbackPort:   cfg.FallbackPort,
		Header:         client.Headers(),
		ReadDebounce:   cfg.ReadDebounce,
		MaxUploadBytes: cfg.MaxUploadBytes,
		HTTPTimeout:    cfg.HTTPTimeout,
	}, session.Deps{
		Dialer:    transport.NewWebsocketDialer(cfg.HTTPTimeout),
		Backend:   client,
		Renderer:  view.NewRenderer(store, view.WithLogger(logger)),
		Reveal:    store,
		Summaries: summaries,
		Audit:     a.Audit,
		Logger:    logger,
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Sessions = sessions
	return a, nil
}

// Close tears down conversations first, then the infrastructure below them.
func (a *App) Close(ctx context.Context) {
	if a.Sessions != nil {
		_ = a.Sessions.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close db", "error", err)
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.logger.Warn("close publisher", "error", err)
		}
	}
	if a.stopTracing != nil {
		if err := a.stopTracing(ctx); err != nil {
			a.logger.Warn("shutdown tracing", "error", err)
		}
	}
}

// ViewerLabel names the viewer in audit records.
func (a *App) ViewerLabel() string {
	if a.Config.ViewerName != "" {
		return a.Config.ViewerName
	}
	return a.Config.ViewerEmail
}

func viewerNamespace(cfg config.Config) string {
	if cfg.ViewerEmail != "" {
		return cfg.ViewerEmail
	}
	return cfg.ViewerName
}
