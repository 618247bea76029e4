// Package app wires the client components from a loaded config.
package app

import (
	"context"

	"arena/internal/cli/config"
	"arena/internal/cli/event"
	httpclient "arena/internal/cli/http"
	"arena/internal/cli/metrics"
	"arena/internal/cli/orchestrator"
	"arena/internal/cli/session"
	"arena/internal/cli/state"
	"arena/internal/cli/view"
	"arena/pkg/utils/logger"

	"go.uber.org/zap"
)

// App holds one wired client.
type App struct {
	Config       config.Config
	Metrics      *metrics.Metrics
	Client       *httpclient.Client
	Store        *state.Store
	Bus          *event.Bus
	Views        *view.Store
	Orchestrator *orchestrator.Orchestrator
	Sessions     *session.Service

	mirror *view.RedisMirror
}

// Options adjust wiring without touching the config file.
type Options struct {
	// Token replaces the stored token for this process only.
	Token string
	// Sinks are subscribed after the view store.
	Sinks []event.Sink
}

// Endpoints maps the configured service URLs onto the client's services.
func Endpoints(cfg config.Config) httpclient.Endpoints {
	return httpclient.Endpoints{
		httpclient.Judge:    cfg.Services.Judge,
		httpclient.Data:     cfg.Services.Data,
		httpclient.Auth:     cfg.Services.Auth,
		httpclient.Problems: cfg.Services.Problems,
	}
}

// New builds every component. A configured but unreachable Redis mirror is
// logged and skipped.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	var store *state.Store
	if opts.Token != "" {
		store = state.NewMemory(opts.Token)
	} else {
		var err error
		store, err = state.Open(cfg.TokenStatePath)
		if err != nil {
			return nil, err
		}
	}

	a := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		Store:   store,
		Bus:     event.NewBus(),
	}
	a.Client = httpclient.New(Endpoints(cfg), cfg.Timeout, a.Metrics)

	var mirror view.Mirror
	if cfg.Views.RedisAddr != "" {
		m, err := view.NewRedisMirror(cfg.Views.RedisAddr, cfg.Views.TTL)
		if err != nil {
			logger.Warn(ctx, "view mirror disabled", zap.String("addr", cfg.Views.RedisAddr), zap.Error(err))
		} else {
			a.mirror = m
			mirror = m
		}
	}
	a.Views = view.NewStore(mirror)
	if a.mirror != nil {
		if n, err := a.Views.Warm(ctx, view.Submissions, view.Ranking); err != nil {
			logger.Warn(ctx, "warm views failed", zap.Error(err))
		} else {
			logger.Debug(ctx, "views warmed", zap.Int("count", n))
		}
	}

	a.Bus.Subscribe(a.Views)
	for _, sink := range opts.Sinks {
		a.Bus.Subscribe(sink)
	}

	a.Orchestrator = orchestrator.New(a.Client, a.Bus, a.Metrics)
	a.Sessions = session.New(a.Client, a.Store, a.Orchestrator.Refresher(), a.Bus)
	return a, nil
}

// Close releases the Redis mirror, if any.
func (a *App) Close() error {
	if a.mirror == nil {
		return nil
	}
	return a.mirror.Close()
}
