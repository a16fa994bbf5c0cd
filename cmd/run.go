package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"basil/pkg/channel"
	"basil/pkg/channel/cli"
	"basil/pkg/channel/mailbox"
	"basil/pkg/channel/telegram"
	"basil/pkg/config"
	"basil/pkg/gateway"
	"basil/pkg/logger"

	"github.com/spf13/cobra"
)

var plainOutput bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot on the configured transports",
	Long: `Loads plugins, then listens on the transport named by server_type plus any
extra enabled channels. Status endpoints are served on the gateway address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := loadApp(runCtx)
		if err != nil {
			return err
		}
		defer a.Close()

		log := logger.Component(a.log, "cmd.run")
		for _, failure := range a.report.Failed {
			log.Warn("Plugin not loaded", "plugin", failure.Source, "error", failure.Err)
		}

		adapters, err := enabledAdapters(a.cfg, a, log)
		if err != nil {
			return err
		}

		svc, err := gateway.NewService(a.cfg.Gateway, adapters, gateway.Options{
			Bus:      a.bus,
			Router:   a.dispatcher,
			Registry: a.registry,
			Gatherer: a.metrics,
			Log:      a.log,
		})
		if err != nil {
			return fmt.Errorf("initialize gateway: %w", err)
		}

		log.Info("Bot started",
			"me", a.cfg.String("me"),
			"channels", enabledChannelNames(adapters),
			"plugins", len(a.report.Loaded),
			"failed_plugins", len(a.report.Failed),
		)
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("gateway runtime failed: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&plainOutput, "plain", false, "disable terminal styling for the cli transport")
}

// enabledAdapters builds the primary transport named by server_type plus the
// optional telegram and mailbox channels.
func enabledAdapters(cfg *config.Config, a *app, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 2)
	me := cfg.String("me")

	serverType := cfg.String("server_type")
	switch serverType {
	case "cli":
		adapters = append(adapters, cli.NewAdapter(cli.Options{
			Me:     me,
			Outbox: a.bus,
			Plain:  plainOutput,
			Log:    log,
		}))
	case "telegram":
	default:
		return nil, fmt.Errorf("unsupported server_type %q", serverType)
	}

	if serverType == "telegram" || cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, me, a.bus, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram channel: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Channels.Mailbox.Enabled {
		adapter, err := mailbox.NewAdapter(cfg.String("mailbox.dir"), a.bus, log)
		if err != nil {
			return nil, fmt.Errorf("configure mailbox channel: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
