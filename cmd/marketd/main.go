// Package main provides marketd, the market state synthesis service:
// - serve: HTTP/WebSocket adapter over the composer
// - state: compose one pair's state and print it as JSON
// - migrate: apply embedded PostgreSQL/ClickHouse migrations
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"market-state-engine/internal/api"
	"market-state-engine/internal/config"
	"market-state-engine/internal/logging"
	"market-state-engine/internal/storage/migrations"
	pgstore "market-state-engine/internal/storage/postgres"
)

var (
	cfgFile   string
	useMemory bool
)

func main() {
	root := &cobra.Command{
		Use:          "marketd",
		Short:        "Market state synthesis engine",
		Long:         "Composes per-pair market state from AMM quotes, resting orders and 24h statistics.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./marketd.yaml or ./configs/marketd.yaml)")
	root.PersistentFlags().BoolVar(&useMemory, "use-memory", false, "use in-memory storage regardless of storage.backend")

	root.AddCommand(serveCmd(), stateCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config and builds the logger.
func setup() (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	if useMemory {
		cfg.Storage.Backend = config.BackendMemory
	}
	logger, closer := logging.New(cfg.Logging)
	slog.SetDefault(logger)
	return cfg, logger, func() { closer.Close() }, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve market state over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, done, err := setup()
			if err != nil {
				return err
			}
			defer done()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := buildEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			logger.Info("marketd starting",
				slog.String("addr", cfg.Server.Addr),
				slog.String("storage", cfg.Storage.Backend),
				slog.String("stats", cfg.Stats.Provider),
				slog.String("liquidity_mode", cfg.LiquidityMode().String()),
				slog.Int("rpc_endpoints", len(cfg.RPC.Endpoints)),
			)

			srv := api.NewServer(eng.Composer, api.Options{
				Addr:            cfg.Server.Addr,
				StreamInterval:  cfg.Server.StreamInterval,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				Logger:          logger,
			})
			if err := srv.Run(ctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}

			logger.Info("shutdown complete")
			return nil
		},
	}
}

func stateCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "state <pair>",
		Short: "Compose and print the market state of one pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, done, err := setup()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			eng, err := buildEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			state, err := eng.Composer.GetMarketState(ctx, args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "overall timeout")
	return cmd
}

func migrateCmd() *cobra.Command {
	var withClickhouse bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, done, err := setup()
			if err != nil {
				return err
			}
			defer done()

			ctx := cmd.Context()
			ran := false

			if cfg.Storage.Backend == config.BackendPostgres {
				pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
				if err != nil {
					return fmt.Errorf("connect postgres: %w", err)
				}
				defer pool.Close()

				applied, err := migrations.RunPostgresMigrations(ctx, pool, logger)
				if err != nil {
					return fmt.Errorf("postgres migrations: %w", err)
				}
				logger.Info("postgres migrations done", slog.Int("applied", len(applied)))
				ran = true
			}

			if withClickhouse || cfg.Stats.Provider == config.StatsClickhouse {
				if cfg.Stats.ClickhouseDSN == "" {
					return errors.New("stats.clickhouse_dsn is required for clickhouse migrations")
				}
				conn, applied, err := migrations.RunClickhouseMigrations(ctx, cfg.Stats.ClickhouseDSN, logger)
				if err != nil {
					return fmt.Errorf("clickhouse migrations: %w", err)
				}
				conn.Close()
				logger.Info("clickhouse migrations done", slog.Int("applied", len(applied)))
				ran = true
			}

			if !ran {
				logger.Info("nothing to migrate", slog.String("storage", cfg.Storage.Backend))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withClickhouse, "clickhouse", false, "also migrate ClickHouse")
	return cmd
}
