package clickhouse_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-state-engine/internal/stats"
	"market-state-engine/internal/storage"
	"market-state-engine/internal/storage/clickhouse"
	"market-state-engine/internal/storage/storagetest"
)

func TestStatsStore_Get24h(t *testing.T) {
	conn, _ := storagetest.Clickhouse(t)

	ctx := context.Background()
	store := clickhouse.NewStatsStore(conn)
	now := time.Now().UTC().Truncate(time.Millisecond)

	trades := []clickhouse.Trade{
		{Pair: "BTC/USDC", TradeID: "old", Price: 10000, Size: 5, ExecutedAt: now.Add(-25 * time.Hour)},
		{Pair: "BTC/USDC", TradeID: "t1", Price: 66000, Size: 0.5, ExecutedAt: now.Add(-23 * time.Hour)},
		{Pair: "BTC/USDC", TradeID: "t2", Price: 69000, Size: 0.25, ExecutedAt: now.Add(-12 * time.Hour)},
		{Pair: "BTC/USDC", TradeID: "t3", Price: 65500, Size: 1, ExecutedAt: now.Add(-6 * time.Hour)},
		{Pair: "BTC/USDC", TradeID: "t4", Price: 67320, Size: 0.25, ExecutedAt: now.Add(-time.Minute)},
		{Pair: "ETH/USDC", TradeID: "e1", Price: 3500, Size: 10, ExecutedAt: now.Add(-time.Hour)},
	}
	require.NoError(t, store.InsertTrades(ctx, trades))

	s, err := store.Get24h(ctx, "BTC", "USDC")
	require.NoError(t, err)

	require.NotNil(t, s.LastPrice)
	assert.InDelta(t, 67320, *s.LastPrice, 1e-9)
	assert.InDelta(t, 69000, *s.High, 1e-9)
	assert.InDelta(t, 65500, *s.Low, 1e-9)
	assert.InDelta(t, 2.0, *s.Volume, 1e-9)
	assert.InDelta(t, 2.0, s.PriceChangePercent, 1e-9)
}

func TestStatsStore_NoTrades(t *testing.T) {
	conn, _ := storagetest.Clickhouse(t)

	_, err := clickhouse.NewStatsStore(conn).Get24h(context.Background(), "DOGE", "USDC")
	assert.ErrorIs(t, err, stats.ErrUnavailable)
}

func TestStatsStore_InvalidTrade(t *testing.T) {
	conn, _ := storagetest.Clickhouse(t)

	err := clickhouse.NewStatsStore(conn).InsertTrades(context.Background(), []clickhouse.Trade{
		{Pair: "BTC/USDC", TradeID: "bad", Price: 0, Size: 1, ExecutedAt: time.Now()},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
