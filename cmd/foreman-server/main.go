// foreman-server runs the task orchestration backend: conversation records,
// build/deployment supervision, and the HTTP progress surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"foreman/internal/config"
	"foreman/internal/deploy"
	"foreman/internal/logging"
	"foreman/internal/monitor"
	"foreman/internal/observability"
	"foreman/internal/orchestrator"
	"foreman/internal/record"
	"foreman/internal/server"
	"foreman/internal/task"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "foreman-server",
		Short:         "Orchestration backend for chat-driven builds and deployments",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to the YAML config file")
	flags.Int("port", 0, "HTTP port (overrides config)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")
	flags.String("cloud-url", "", "cloud manager base URL")
	flags.Bool("metrics", false, "enable the Prometheus scrape endpoint")
	_ = v.BindPFlags(flags)

	v.SetEnvPrefix("FOREMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cmd
}

// loadConfig layers flag/env overrides from viper on top of the config file.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return nil, err
	}
	if port := v.GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if level := v.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := v.GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}
	if url := v.GetString("cloud-url"); url != "" {
		cfg.Cloud.BaseURL = url
	}
	if v.GetBool("metrics") {
		cfg.Metrics.Enabled = true
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logging.Configure(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger := logging.NewComponentLogger("main")

	metrics, err := observability.NewMetrics(cfg.Metrics)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	tracing, err := observability.NewTracerProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	store := record.NewInMemoryStore()
	updater := record.NewLockedUpdater(store, record.UpdaterConfig{
		MaxAttempts: cfg.Updater.MaxAttempts,
		BaseDelay:   cfg.Updater.BaseDelay.Std(),
		Multiplier:  cfg.Updater.Multiplier,
		MaxDelay:    cfg.Updater.MaxDelay.Std(),
	}, logging.NewComponentLogger("record"), metrics)
	tasks := task.NewRegistry(task.RegistryConfig{}, logging.NewComponentLogger("task"), metrics)
	mon := monitor.New(tasks, updater, metrics, logging.NewComponentLogger("monitor"))

	var cloud *deploy.Client
	if cfg.Cloud.BaseURL != "" {
		cloud = deploy.NewClient(cfg.Cloud.BaseURL, cfg.Cloud.Timeout.Std(), logging.NewComponentLogger("deploy"))
	}

	orch := orchestrator.New(orchestrator.Config{
		PollInterval:       cfg.Monitor.PollInterval.Std(),
		SideEffectInterval: cfg.Monitor.SideEffectInterval.Std(),
		MaxDuration:        cfg.Monitor.MaxDuration.Std(),
		GracePeriod:        cfg.Monitor.GracePeriod.Std(),
	}, tasks, store, updater, mon, cloud, tracing.Tracer(), logging.NewComponentLogger("orchestrator"))

	srv := server.New(server.Config{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxStreams:     cfg.Server.MaxStreams,
	}, orch, tasks, metrics, logging.NewComponentLogger("server"))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		logger.Info("Shutdown signal received, draining")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown: %v", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Monitor drain: %v", err)
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown: %v", err)
	}
	logger.Info("Server stopped")
	return nil
}
