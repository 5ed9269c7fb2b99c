package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-state-engine/internal/domain"
	"market-state-engine/internal/storage"
	"market-state-engine/internal/storage/postgres"
	"market-state-engine/internal/storage/storagetest"
)

func TestPairRegistry_InsertAndGet(t *testing.T) {
	pool := storagetest.Postgres(t)

	ctx := context.Background()
	registry := postgres.NewPairRegistry(pool)

	pair := testPair("btc-usdc", "BTC-USDC")
	require.NoError(t, registry.InsertPair(ctx, pair))

	byID, err := registry.GetPairBySymbolOrID(ctx, "btc-usdc")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDC", byID.Symbol)
	assert.Equal(t, pair.Base.Address, byID.Base.Address)
	assert.Equal(t, 8, byID.Base.Decimals)
	assert.Equal(t, domain.ChainEVM, byID.Base.Chain)
	assert.Equal(t, 6, byID.Quote.Decimals)
	assert.True(t, byID.Active)

	bySymbol, err := registry.GetPairBySymbolOrID(ctx, "BTC-USDC")
	require.NoError(t, err)
	assert.Equal(t, "btc-usdc", bySymbol.ID)
}

func TestPairRegistry_NotFound(t *testing.T) {
	pool := storagetest.Postgres(t)

	_, err := postgres.NewPairRegistry(pool).GetPairBySymbolOrID(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPairRegistry_Duplicate(t *testing.T) {
	pool := storagetest.Postgres(t)

	ctx := context.Background()
	registry := postgres.NewPairRegistry(pool)

	require.NoError(t, registry.InsertPair(ctx, testPair("btc-usdc", "BTC-USDC")))
	assert.ErrorIs(t, registry.InsertPair(ctx, testPair("btc-usdc", "OTHER")), storage.ErrDuplicateKey)
	assert.ErrorIs(t, registry.InsertPair(ctx, testPair("other", "BTC-USDC")), storage.ErrDuplicateKey)
}

func TestPairRegistry_SharedTokensAndList(t *testing.T) {
	pool := storagetest.Postgres(t)

	ctx := context.Background()
	registry := postgres.NewPairRegistry(pool)

	eth := testPair("eth-usdc", "ETH-USDC")
	eth.Base = domain.Token{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18}
	mock := &domain.TradingPair{
		ID:        "doge-usdc",
		Symbol:    "DOGE-USDC",
		Base:      domain.Token{Symbol: "DOGE"},
		Quote:     domain.Token{Symbol: "USDC"},
		Mock:      true,
		MockPrice: 0.15,
	}

	require.NoError(t, registry.InsertPair(ctx, testPair("btc-usdc", "BTC-USDC")))
	require.NoError(t, registry.InsertPair(ctx, eth))
	require.NoError(t, registry.InsertPair(ctx, mock))

	pairs, err := registry.ListPairs(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 3)
	assert.Equal(t, "BTC-USDC", pairs[0].Symbol)
	assert.Equal(t, "DOGE-USDC", pairs[1].Symbol)
	assert.Equal(t, "ETH-USDC", pairs[2].Symbol)

	assert.True(t, pairs[1].Mock)
	assert.InDelta(t, 0.15, pairs[1].MockPrice, 1e-12)
	assert.Equal(t, 18, pairs[2].Base.Decimals)

	var tokenCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM tokens`).Scan(&tokenCount))
	assert.Equal(t, 5, tokenCount, "USDC shared by the two real pairs")
}

func TestPairRegistry_SetActive(t *testing.T) {
	pool := storagetest.Postgres(t)

	ctx := context.Background()
	registry := postgres.NewPairRegistry(pool)
	require.NoError(t, registry.InsertPair(ctx, testPair("btc-usdc", "BTC-USDC")))

	require.NoError(t, registry.SetActive(ctx, "btc-usdc", false))
	p, err := registry.GetPairBySymbolOrID(ctx, "btc-usdc")
	require.NoError(t, err)
	assert.False(t, p.Active)

	assert.ErrorIs(t, registry.SetActive(ctx, "missing", true), storage.ErrNotFound)
}

func testPair(id, symbol string) *domain.TradingPair {
	return &domain.TradingPair{
		ID:     id,
		Symbol: symbol,
		Base:   domain.Token{Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Symbol: "BTC", Decimals: 8},
		Quote:  domain.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6},
		Active: true,
	}
}
