// packplan-server runs the adaptive pack planning API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packplan/internal/assembler"
	"packplan/internal/config"
	"packplan/internal/lifecycle"
	"packplan/internal/logging"
	"packplan/internal/observability"
	"packplan/internal/planner"
	"packplan/internal/selector"
	serverHTTP "packplan/internal/server/http"
	"packplan/internal/store"
	"packplan/internal/store/memstore"
	"packplan/internal/store/postgres"
	"packplan/internal/summarizer"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "packplan-server",
		Short: "Adaptive practice pack planning service",
		Long: "packplan-server plans per-session practice packs: deterministic candidate\n" +
			"selection, externally optimized ordering with a strict fallback contract,\n" +
			"and idempotent persistence of the planned pack.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to the YAML config file")
	flags.String("host", "", "HTTP listen host")
	flags.Int("port", 0, "HTTP listen port")
	flags.String("database-url", "", "PostgreSQL connection URL (empty runs in-memory)")
	flags.String("reasoner-url", "", "base URL of the reasoning service")
	flags.String("reasoner-model", "", "model requested from the reasoning service")
	flags.String("summarizer-url", "", "base URL of the progress summarizer")

	v.SetEnvPrefix("PACKPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)

	return cmd
}

func loadConfig(v *viper.Viper) (config.Config, error) {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return config.Config{}, err
	}

	if host := v.GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port := v.GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if url := v.GetString("database-url"); url != "" {
		cfg.Database.URL = url
	}
	if url := v.GetString("reasoner-url"); url != "" {
		cfg.Reasoner.BaseURL = url
	}
	if model := v.GetString("reasoner-model"); model != "" {
		cfg.Reasoner.Model = model
	}
	if url := v.GetString("summarizer-url"); url != "" {
		cfg.Summarizer.BaseURL = url
	}
	if key := v.GetString("reasoner-api-key"); key != "" {
		cfg.Reasoner.APIKey = key
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config) error {
	obs, err := observability.New(cfg.Observability)
	if err != nil {
		return fmt.Errorf("initialize observability: %w", err)
	}
	logger := logging.NewComponentLogger("Main")
	logger.Info("Starting packplan-server...")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	itemStore, planStore, healthCheck, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	service := lifecycle.NewService(
		selector.NewSelector(itemStore),
		planner.NewPlanner(planner.NewReasoningOptimizer(cfg.Reasoner.ReasoningConfig), cfg.PlanConfig(), obs.Metrics),
		assembler.NewAssembler(itemStore),
		planStore,
		summarizer.NewHTTPNotifier(cfg.Summarizer),
		obs.Metrics,
	)

	srv := serverHTTP.NewServer(service, obs.Metrics, serverHTTP.Options{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		AllowOrigins: cfg.Server.AllowOrigins,
		HealthCheck:  healthCheck,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed: %v", err)
	}
	if obs.Metrics != nil {
		if err := obs.Metrics.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics shutdown failed: %v", err)
		}
	}
	return nil
}

func buildStores(ctx context.Context, cfg config.Config, logger logging.Logger) (store.ItemStore, store.PlanStore, func(context.Context) error, func(), error) {
	if cfg.Database.URL == "" {
		logger.Warn("No database URL configured, using in-memory stores")
		return memstore.NewItemStore(), memstore.NewPlanStore(), nil, func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	pg := postgres.New(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.Info("Connected to PostgreSQL")
	return pg, pg, pg.Ping, pool.Close, nil
}
