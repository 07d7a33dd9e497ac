package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/threadrun/internal/agent"
	"github.com/nextlevelbuilder/threadrun/internal/config"
	"github.com/nextlevelbuilder/threadrun/internal/gateway"
	"github.com/nextlevelbuilder/threadrun/internal/observability"
	"github.com/nextlevelbuilder/threadrun/internal/providers"
	"github.com/nextlevelbuilder/threadrun/internal/retriever"
	"github.com/nextlevelbuilder/threadrun/internal/store/pg"
	"github.com/nextlevelbuilder/threadrun/internal/threads"
	"github.com/nextlevelbuilder/threadrun/internal/upgrade"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func runServe() error {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		return err
	}
	if cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("THREADRUN_POSTGRES_DSN environment variable is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pg.OpenDB(ctx, cfg.Database.PostgresDSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	schema, err := upgrade.CheckSchema(ctx, db)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}
	if err := schema.Err(); err != nil {
		fmt.Fprint(os.Stderr, upgrade.FormatError(schema))
		return err
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	var metrics *observability.Metrics
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	rt := &gateway.Runtime{
		DB:      db,
		Tracker: gateway.NewTracker(metrics),
		Deps: threads.Deps{
			Factory: providers.DefaultFactory{},
			Executor: agent.NewExecutor(agent.ExecutorConfig{
				MaxDepth:      cfg.Agent.MaxRecursionDepth,
				RelayCapacity: cfg.Agent.RelayCapacity,
			}, metrics),
			Pacer: agent.Pacer{
				WordsPerMinute:  cfg.Agent.WordsPerMinute,
				FirstPartCredit: cfg.Agent.FirstPartCredit.Std(),
				Spacing:         cfg.Agent.PartSpacing.Std(),
			},
			Config: threads.Config{
				SettleDelay:   cfg.Agent.SettleDelay.Std(),
				HistoryWindow: cfg.Agent.HistoryWindow.Std(),
			},
			Metrics: metrics,
		},
		Retriever: retriever.Config{
			TopK:      cfg.Retriever.TopK,
			Threshold: cfg.Retriever.Threshold,
		},
	}

	server := gateway.NewServer(cfg, rt, Version)
	if registry != nil {
		server.SetMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	if cfg.Gateway.Token == "" {
		slog.Warn("security.no_gateway_token", "hint", "set THREADRUN_GATEWAY_TOKEN to require bearer auth")
	}

	slog.Info("threadrun starting", "version", Version, "config", cfgPath, "schema", schema.CurrentVersion)
	return server.Start(ctx)
}
