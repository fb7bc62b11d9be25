package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/loreforge/internal/app"
	"github.com/MrWong99/loreforge/internal/config"
	"github.com/MrWong99/loreforge/internal/observe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the generation HTTP API",
	Long: `Serve the generation HTTP API.

The configuration file is watched and reloaded in place when it changes;
send SIGHUP to force a reload. SIGINT or SIGTERM shut the server down
gracefully.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, path, lv, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		slog.Info("loreforge starting",
			"version", version,
			"config", path,
			"listen_addr", cfg.Server.ListenAddr,
			"log_level", cfg.Server.LogLevel,
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownTelemetry, err := observe.InitProvider(ctx, telemetryConfig(cfg))
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}

		application, err := app.New(ctx, cfg, newRegistry(),
			app.WithLevelVar(lv),
			app.WithMetricsHandler(promhttp.Handler()),
		)
		if err != nil {
			return err
		}

		watcher, err := config.NewWatcher(path, func(_, next *config.Config) {
			if err := application.ApplyConfig(ctx, next); err != nil {
				slog.Error("config reload rejected", "err", err)
			}
		})
		if err != nil {
			_ = application.Shutdown(context.Background())
			return err
		}
		defer watcher.Stop()
		go reloadOnHangup(ctx, watcher)

		var errs []error
		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("run error", "err", err)
			errs = append(errs, err)
		}

		// ── Graceful shutdown ─────────────────────────────────────────────────
		shutdownCtx, cancel := context.WithTimeout(context.Background(), application.Config().Server.ShutdownTimeout)
		defer cancel()
		slog.Info("stopping")
		if err := application.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
		if err := errors.Join(errs...); err != nil {
			return err
		}
		slog.Info("goodbye")
		return nil
	},
}

// telemetryConfig maps the telemetry section onto the provider settings.
func telemetryConfig(cfg *config.Config) observe.ProviderConfig {
	t := cfg.Telemetry
	pc := observe.ProviderConfig{
		ServiceName:    t.ServiceName,
		ServiceVersion: version,
		SampleRatio:    t.TraceSampleRatio,
	}
	if t.TraceExporter == config.TraceExporterLog {
		pc.TraceExporter = observe.NewLogExporter(slog.Default().With("component", "trace"))
	}
	return pc
}

// reloadOnHangup forces a config reload on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			changed, err := w.Reload()
			if err != nil {
				slog.Error("SIGHUP reload failed", "err", err)
				continue
			}
			slog.Info("SIGHUP reload", "changed", changed)
		}
	}
}
