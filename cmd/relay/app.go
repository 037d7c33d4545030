package main

import (
	"context"
	"fmt"
	"os"

	"github.com/haasonsaas/relay/internal/catalog"
	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/credentials"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/orchestrator"
	"github.com/haasonsaas/relay/internal/provider"
	"github.com/haasonsaas/relay/internal/ratelimit"
	"github.com/haasonsaas/relay/internal/research"
	"github.com/haasonsaas/relay/internal/store"
	"github.com/haasonsaas/relay/internal/tools"
)

// app wires the engine together from configuration: store, catalog,
// credentials, providers, limiter, orchestrator, research runner.
type app struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics

	store      store.Store
	closeStore func() error

	catalog      *catalog.Catalog
	keychain     *credentials.Keychain
	providers    *provider.Registry
	limiter      *ratelimit.Limiter
	orchestrator *orchestrator.Orchestrator
	runner       *research.Runner

	shutdownTracer func(context.Context) error
}

func newApp(configPath string, debug bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	metrics := observability.NewMetrics()

	var tracer *observability.Tracer
	shutdownTracer := func(context.Context) error { return nil }
	if cfg.Tracing.Enabled {
		tracer, shutdownTracer = observability.NewTracer(observability.TraceConfig{
			ServiceName:    "relay",
			ServiceVersion: version,
			Endpoint:       cfg.Tracing.Endpoint,
			Insecure:       true,
		})
	}

	var st store.Store
	closeStore := func() error { return nil }
	switch cfg.Store.Backend {
	case "sqlite":
		sqlite, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		st = sqlite
		closeStore = sqlite.Close
	default:
		st = store.NewMemoryStore()
	}

	cat := catalog.New(cfg.Models.Default)
	keychain := credentials.NewKeychain()
	providers := provider.NewRegistry(keychain, provider.RegistryConfig{})
	limiter := ratelimit.NewLimiter(st, ratelimit.Config{
		GuestLimit: cfg.Limits.GuestLimit,
		UserLimit:  cfg.Limits.UserLimit,
		Window:     cfg.Limits.Window(),
	}, metrics)

	buildTools := func(flags tools.Flags) *tools.Registry {
		return tools.Build(flags, tools.BuildConfig{
			SearchBaseURL: cfg.Tools.SearchBaseURL,
			OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
			ImageModel:    cfg.Tools.ImageModel,
		}, metrics)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Chats:      st,
		Messages:   st,
		Catalog:    cat,
		Providers:  providers,
		BuildTools: buildTools,
		Generation: cfg.Generation,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
	})
	runner := research.New(research.Deps{
		Sessions:   st,
		Catalog:    cat,
		Providers:  providers,
		BuildTools: buildTools,
		Limiter:    limiter,
		Generation: cfg.Generation,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
	})

	return &app{
		cfg:            cfg,
		logger:         logger,
		metrics:        metrics,
		store:          st,
		closeStore:     closeStore,
		catalog:        cat,
		keychain:       keychain,
		providers:      providers,
		limiter:        limiter,
		orchestrator:   orch,
		runner:         runner,
		shutdownTracer: shutdownTracer,
	}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.closeStore(); err != nil {
		a.logger.Warn(ctx, "store close failed", "error", err)
	}
	if err := a.shutdownTracer(ctx); err != nil {
		a.logger.Warn(ctx, "tracer shutdown failed", "error", err)
	}
}
