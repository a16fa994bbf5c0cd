package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"basil/pkg/bus"
	"basil/pkg/config"
	"basil/pkg/dispatch"
	"basil/pkg/history"
	"basil/pkg/logger"
	"basil/pkg/plugin"
	"basil/pkg/plugins"
	"basil/pkg/provider"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app is the wired process: registry loaded, dispatcher ready, no transport
// running yet.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	bus        *bus.MessageBus
	registry   *plugin.Registry
	history    *history.ChatHistory
	dispatcher *dispatch.Dispatcher
	metrics    *prometheus.Registry
	report     plugin.Report
}

// loadApp reads config, installs the process logger, and wires every
// component. Callers must Close the returned app.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return newApp(ctx, cfg, appLogger)
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	store, err := openHistoryStore(cfg)
	if err != nil {
		return nil, err
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		log:      log,
		bus:      bus.NewMessageBus(),
		registry: plugin.NewRegistry(),
		history:  history.New(store),
		metrics:  metrics,
	}

	client, err := provider.New(cfg.Providers)
	switch {
	case errors.Is(err, provider.ErrDisabled):
		client = nil
	case err != nil:
		a.Close()
		return nil, fmt.Errorf("initialize provider: %w", err)
	}

	a.dispatcher = dispatch.New(a.registry, a.history, dispatch.Options{
		Me:           cfg.String("me"),
		EmailChannel: cfg.String("server_type"),
		Outbox:       a.bus,
		Events:       a.bus,
		Metrics:      dispatch.NewMetrics(metrics),
		Log:          log,
	})

	builtins := plugins.Builtins(plugins.Deps{
		Config:   cfg,
		History:  a.history,
		Provider: client,
		Log:      log,
	})

	a.report = plugin.NewLoader(cfg.String("plugins_directory"), log).
		Add(builtins...).
		Disable(cfg.DisabledPlugins...).
		PublishTo(a.bus).
		Load(ctx, a.registry)

	return a, nil
}

func (a *app) Close() {
	a.bus.Close()
	if err := a.history.Close(); err != nil {
		a.log.Warn("Failed to close history store", "error", err)
	}
}

func openHistoryStore(cfg *config.Config) (history.Store, error) {
	switch backend := cfg.String("history.backend"); backend {
	case "memory":
		return history.NewMemoryStore(), nil
	case "sqlite":
		path := cfg.String("history.path")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
		store, err := history.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported history backend %q", backend)
	}
}
