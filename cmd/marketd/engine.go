package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"market-state-engine/internal/book"
	"market-state-engine/internal/cache"
	"market-state-engine/internal/chain"
	"market-state-engine/internal/config"
	"market-state-engine/internal/domain"
	"market-state-engine/internal/market"
	"market-state-engine/internal/pricing"
	"market-state-engine/internal/stats"
	"market-state-engine/internal/storage"
	chstore "market-state-engine/internal/storage/clickhouse"
	"market-state-engine/internal/storage/memory"
	pgstore "market-state-engine/internal/storage/postgres"
)

// engine holds the composer and everything that must be closed with it.
type engine struct {
	Composer *market.Composer
	closers  []func()
}

// Close releases database connections in reverse order.
func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	eng := &engine{}

	registry, orders, err := createStores(ctx, cfg, eng, logger)
	if err != nil {
		eng.Close()
		return nil, err
	}

	provider, err := createStatsProvider(ctx, cfg, eng, logger)
	if err != nil {
		eng.Close()
		return nil, err
	}

	pool := chain.NewHTTPPool(cfg.ChainEndpoints(), logger)
	resolver, err := pricing.NewResolver(pool, pricing.Config{
		QuoterAddress: cfg.RPC.QuoterAddress,
		FeeTiers:      cfg.RPC.FeeTiers,
	}, logger)
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("price resolver: %w", err)
	}
	logger.Info("price resolver ready",
		slog.Int("endpoints", len(cfg.ChainEndpoints())),
		slog.Any("fee_tiers", resolver.FeeTiers()),
	)

	generator := book.NewSyntheticGenerator(cfg.Synthetic, book.WithLogger(logger))

	composer, err := market.NewComposer(market.Options{
		Registry:        registry,
		Orders:          orders,
		Prices:          resolver,
		Stats:           provider,
		Liquidity:       book.NewLiquiditySource(cfg.LiquidityMode(), generator),
		StateCache:      cache.New[*domain.MarketState](cfg.Cache.StateTTL),
		ListCache:       cache.New[[]*domain.MarketState](cfg.Cache.StateTTL),
		BranchTimeout:   cfg.Composer.BranchTimeout,
		ListConcurrency: cfg.Composer.ListConcurrency,
		DedupeInflight:  cfg.Composer.DedupeInflight,
		Logger:          logger,
	})
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("composer: %w", err)
	}

	eng.Composer = composer
	return eng, nil
}

// createStores returns the pair registry and order store for the configured backend.
func createStores(ctx context.Context, cfg *config.Config, eng *engine, logger *slog.Logger) (storage.PairRegistry, storage.OrderStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		eng.closers = append(eng.closers, pool.Close)
		return pgstore.NewPairRegistry(pool), pgstore.NewOrderStore(pool), nil

	case config.BackendMemory:
		registry := memory.NewPairRegistry()
		orders := memory.NewOrderStore()
		if cfg.Storage.PairsFile != "" {
			seed, err := memory.LoadSeedFile(cfg.Storage.PairsFile)
			if err != nil {
				return nil, nil, err
			}
			if err := seed.Seed(ctx, registry, orders); err != nil {
				return nil, nil, fmt.Errorf("seed pairs: %w", err)
			}
			logger.Info("memory stores seeded",
				slog.String("file", cfg.Storage.PairsFile),
				slog.Int("pairs", len(seed.Pairs)),
				slog.Int("orders", len(seed.Orders)),
			)
		}
		return registry, orders, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// createStatsProvider returns the 24h statistics provider behind the long-TTL cache.
func createStatsProvider(ctx context.Context, cfg *config.Config, eng *engine, logger *slog.Logger) (stats.Provider, error) {
	var inner stats.Provider

	switch cfg.Stats.Provider {
	case config.StatsNone, "":
		return stats.None{}, nil
	case config.StatsHTTP:
		inner = newHTTPStats(cfg, logger)
	case config.StatsClickhouse:
		conn, err := chstore.NewConn(ctx, cfg.Stats.ClickhouseDSN)
		if err != nil {
			return nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		eng.closers = append(eng.closers, func() { conn.Close() })
		logger.Info("clickhouse stats store connected", slog.String("database", conn.Database()))
		inner = chstore.NewStatsStore(conn)
		if cfg.Stats.URL != "" {
			// Pairs without local trades fall through to the exchange feed.
			inner = stats.Chain{inner, newHTTPStats(cfg, logger)}
		}
	default:
		return nil, errors.New("unknown stats provider " + cfg.Stats.Provider)
	}

	return stats.NewCached(inner, cache.New[*domain.Stats24h](cfg.Cache.StatsTTL), logger), nil
}

func newHTTPStats(cfg *config.Config, logger *slog.Logger) *stats.HTTPProvider {
	return stats.NewHTTPProvider(cfg.Stats.URL,
		stats.WithRateLimit(cfg.Stats.RateLimit, cfg.Stats.Burst),
		stats.WithSymbolMap(cfg.Stats.SymbolMap),
		stats.WithHTTPLogger(logger),
	)
}
