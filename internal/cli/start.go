package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/numlease/numlease/internal/catalog"
	"github.com/numlease/numlease/internal/config"
	"github.com/numlease/numlease/internal/order"
	"github.com/numlease/numlease/internal/poller"
	"github.com/numlease/numlease/internal/provider"
	"github.com/numlease/numlease/internal/server"
	"github.com/numlease/numlease/internal/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the numlease API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		flags := map[string]string{}
		for _, name := range []string{"host", "port", "database-url"} {
			if v, _ := cmd.Flags().GetString(name); v != "" {
				flags[name] = v
			}
		}

		cfg, err := config.Load(configPath, flags)
		if err != nil {
			return err
		}
		return runServer(cmd.Context(), cfg)
	},
}

func init() {
	startCmd.Flags().String("config", "", "Path to numlease.toml")
	startCmd.Flags().String("host", "", "Bind host (overrides config)")
	startCmd.Flags().String("port", "", "Bind port (overrides config)")
	startCmd.Flags().String("database-url", "", "Postgres connection URL (overrides config)")
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)

	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	registry := provider.NewRegistry(cfg.Providers)
	resolver := catalog.NewResolver(registry, logger)
	orders := order.NewService(st, registry, resolver, cfg, logger)

	p := poller.New(orders, registry, logger, poller.Config{
		DeliveryInterval: time.Duration(cfg.Poller.DeliveryIntervalSecs) * time.Second,
		ExpiryInterval:   time.Duration(cfg.Poller.ExpiryIntervalSecs) * time.Second,
	})
	p.Start(ctx)
	defer p.Stop()

	srv := server.New(cfg, logger, orders, resolver)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
		return srv.Shutdown(ctx)
	}
}

// openStore connects Postgres when database.url is set, otherwise runs on a
// local SQLite file.
func openStore(ctx context.Context, cfg *config.Config) (order.Store, func(), error) {
	if cfg.Database.URL != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse database url: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.Database.MaxConns)
		poolCfg.MinConns = int32(cfg.Database.MinConns)

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		st, err := store.NewPG(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	}

	st, err := store.OpenSQLite(cfg.Database.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
