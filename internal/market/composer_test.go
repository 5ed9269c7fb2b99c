package market

import (
	"context"
	"errors"
	"math"
	"math/big"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-state-engine/internal/book"
	"market-state-engine/internal/cache"
	"market-state-engine/internal/chain/stub"
	"market-state-engine/internal/domain"
	"market-state-engine/internal/pricing"
	"market-state-engine/internal/stats"
	"market-state-engine/internal/storage/memory"
)

var (
	wbtc = domain.Token{Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Symbol: "BTC", Decimals: 8}
	usdc = domain.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6}
)

type priceFunc func(ctx context.Context, in, out domain.Token) (float64, error)

func (f priceFunc) Resolve(ctx context.Context, in, out domain.Token) (float64, error) {
	return f(ctx, in, out)
}

type statsFunc func(ctx context.Context, base, quote string) (*domain.Stats24h, error)

func (f statsFunc) Get24h(ctx context.Context, base, quote string) (*domain.Stats24h, error) {
	return f(ctx, base, quote)
}

type failingOrders struct{}

func (failingOrders) GetOpenOrders(context.Context, string) ([]domain.Order, error) {
	return nil, errors.New("order store down")
}

type countingOrders struct {
	*memory.OrderStore
	calls atomic.Int32
}

func (c *countingOrders) GetOpenOrders(ctx context.Context, pairID string) ([]domain.Order, error) {
	c.calls.Add(1)
	return c.OrderStore.GetOpenOrders(ctx, pairID)
}

type fixture struct {
	registry *memory.PairRegistry
	orders   *memory.OrderStore
	opts     Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := memory.NewPairRegistry()
	require.NoError(t, registry.InsertPair(context.Background(), &domain.TradingPair{
		ID: "btc-usdc", Symbol: "BTC-USDC", Base: wbtc, Quote: usdc, Active: true,
	}))

	orders := memory.NewOrderStore()
	gen := book.NewSyntheticGenerator(book.DefaultSyntheticConfig(), book.WithRand(rand.New(rand.NewPCG(1, 2))))

	return &fixture{
		registry: registry,
		orders:   orders,
		opts: Options{
			Registry: registry,
			Orders:   orders,
			Prices: priceFunc(func(context.Context, domain.Token, domain.Token) (float64, error) {
				return 68000, nil
			}),
			Stats:         stats.None{},
			Liquidity:     book.NewLiquiditySource(book.ModeFallback, gen),
			StateCache:    cache.New[*domain.MarketState](5 * time.Second),
			ListCache:     cache.New[[]*domain.MarketState](5 * time.Second),
			BranchTimeout: 200 * time.Millisecond,
		},
	}
}

func (f *fixture) composer(t *testing.T) *Composer {
	t.Helper()
	c, err := NewComposer(f.opts)
	require.NoError(t, err)
	return c
}

func parseF(t *testing.T, s string) float64 {
	t.Helper()
	v, err := strconv.ParseFloat(s, 64)
	require.NoError(t, err)
	return v
}

func TestComposer_UnknownPair(t *testing.T) {
	c := newFixture(t).composer(t)

	state, err := c.ComposeMarketState(context.Background(), "DOGE-USDC")
	require.NoError(t, err)
	assert.Nil(t, state)

	_, err = c.GetMarketState(context.Background(), "DOGE-USDC")
	assert.ErrorIs(t, err, domain.ErrUnsupportedPair)

	_, ok := c.GetOrderBook(context.Background(), "DOGE-USDC")
	assert.False(t, ok)
}

func TestComposer_RegistryFailureIsNil(t *testing.T) {
	f := newFixture(t)
	f.opts.Registry = failingRegistry{}
	c := f.composer(t)

	state, err := c.ComposeMarketState(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestComposer_SyntheticBookFromAMMPrice(t *testing.T) {
	caller := stub.NewCaller()
	for fee, amount := range map[uint32]int64{100: 0, 500: 68_000_000_000} {
		data, err := pricing.EncodeQuoteExactInputSingle(
			common.HexToAddress(wbtc.Address), common.HexToAddress(usdc.Address), big.NewInt(100_000_000), fee)
		require.NoError(t, err)
		result, err := pricing.EncodeQuoteResult(big.NewInt(amount))
		require.NoError(t, err)
		caller.On(data, stub.Response{Data: result})
	}
	resolver, err := pricing.NewResolver(caller, pricing.Config{}, nil)
	require.NoError(t, err)

	f := newFixture(t)
	f.opts.Prices = resolver
	c := f.composer(t)

	state, err := c.ComposeMarketState(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, domain.SourceLive, state.Source)
	assert.True(t, state.IsActive)
	require.Len(t, state.Bids, 10)
	require.Len(t, state.Asks, 10)

	assert.InDelta(t, 67864, parseF(t, state.Bids[0].Price), 67864*0.0011)
	assert.InDelta(t, 68136, parseF(t, state.Asks[0].Price), 68136*0.0011)
	for i := 1; i < 10; i++ {
		assert.Less(t, parseF(t, state.Bids[i].Price), parseF(t, state.Bids[i-1].Price))
		assert.Greater(t, parseF(t, state.Asks[i].Price), parseF(t, state.Asks[i-1].Price))
	}

	require.NotNil(t, state.MarkPrice)
	assert.InDelta(t, 68000, *state.MarkPrice, 68000*0.0011)
	require.NotNil(t, state.LastPrice)
	assert.Equal(t, 68000.0, *state.LastPrice)
	assert.Zero(t, state.PriceChangePercent)
	assert.Nil(t, state.High24h)
}

func TestComposer_SingleRealBid(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orders.InsertOrder(context.Background(), domain.Order{
		ID: "o1", PairID: "btc-usdc", Side: domain.OrderSideBuy, Price: "67950", Size: "1.0",
	}))
	c := f.composer(t)

	state, err := c.ComposeMarketState(context.Background(), "btc-usdc")
	require.NoError(t, err)
	require.NotNil(t, state)

	require.Len(t, state.Bids, 1)
	assert.Equal(t, "67950", state.Bids[0].Price)
	assert.Equal(t, "1.0", state.Bids[0].Size)
	assert.Empty(t, state.Asks)
	assert.NotNil(t, state.Asks)

	require.NotNil(t, state.MarkPrice)
	assert.Equal(t, 68000.0, *state.MarkPrice, "one-sided book marks at the mid")
}

func TestComposer_NettedOrdersSuppressSynthetic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.orders.InsertOrder(ctx, domain.Order{
		ID: "b1", PairID: "btc-usdc", Side: domain.OrderSideBuy, Price: "68000", Size: "1",
	}))
	require.NoError(t, f.orders.InsertOrder(ctx, domain.Order{
		ID: "s1", PairID: "btc-usdc", Side: domain.OrderSideSell, Price: "68000", Size: "1",
	}))
	c := f.composer(t)

	state, err := c.ComposeMarketState(ctx, "btc-usdc")
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Empty(t, state.Bids)
	assert.Empty(t, state.Asks)
	assert.Equal(t, domain.SourceLive, state.Source)
	require.NotNil(t, state.MarkPrice)
	assert.Equal(t, 68000.0, *state.MarkPrice)
}

func TestComposer_AllBranchesFail(t *testing.T) {
	f := newFixture(t)
	f.opts.Prices = priceFunc(func(context.Context, domain.Token, domain.Token) (float64, error) {
		return 0, domain.ErrRPCUnavailable
	})
	f.opts.Orders = failingOrders{}
	f.opts.Stats = statsFunc(func(context.Context, string, string) (*domain.Stats24h, error) {
		return nil, errors.New("stats down")
	})
	c := f.composer(t)

	state, err := c.ComposeMarketState(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Nil(t, state.MarkPrice)
	assert.Nil(t, state.LastPrice)
	assert.Empty(t, state.Bids)
	assert.Empty(t, state.Asks)
	assert.Equal(t, domain.SourceUnavailable, state.Source)
	assert.False(t, state.IsActive)
}

func TestComposer_BookFailureSkipsSynthetic(t *testing.T) {
	f := newFixture(t)
	f.opts.Orders = failingOrders{}
	c := f.composer(t)

	state, err := c.ComposeMarketState(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Empty(t, state.Bids)
	assert.Empty(t, state.Asks)
	assert.Equal(t, domain.SourceUnavailable, state.Source)
	require.NotNil(t, state.MarkPrice)
	assert.Equal(t, 68000.0, *state.MarkPrice)
}

func TestComposer_NoPriceNoOrders(t *testing.T) {
	f := newFixture(t)
	f.opts.Prices = priceFunc(func(context.Context, domain.Token, domain.Token) (float64, error) {
		return 0, domain.ErrNoLiquidity
	})
	c := f.composer(t)

	state, err := c.ComposeMarketState(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, domain.SourceLive, state.Source)
	assert.True(t, state.IsActive)
	assert.Nil(t, state.MarkPrice)
	assert.Empty(t, state.Bids)
	assert.Empty(t, state.Asks)
}

func TestComposer_StatsFields(t *testing.T) {
	f := newFixture(t)
	high, low, vol, last := 68500.0, 66100.0, 1234.5, 67990.0
	f.opts.Stats = statsFunc(func(_ context.Context, base, quote string) (*domain.Stats24h, error) {
		assert.Equal(t, "BTC", base)
		assert.Equal(t, "USDC", quote)
		return &domain.Stats24h{PriceChangePercent: 1.8, High: &high, Low: &low, Volume: &vol, LastPrice: &last}, nil
	})
	c := f.composer(t)

	state, err := c.ComposeMarketState(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, 1.8, state.PriceChangePercent)
	assert.Equal(t, 68500.0, *state.High24h)
	assert.Equal(t, 66100.0, *state.Low24h)
	assert.Equal(t, 1234.5, *state.Volume24h)
	assert.Equal(t, 67990.0, *state.LastPrice)
}

func TestComposer_BranchTimeout(t *testing.T) {
	f := newFixture(t)
	f.opts.BranchTimeout = 50 * time.Millisecond
	f.opts.Stats = statsFunc(func(ctx context.Context, _, _ string) (*domain.Stats24h, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f.opts.Prices = priceFunc(func(context.Context, domain.Token, domain.Token) (float64, error) {
		time.Sleep(2 * time.Second) // ignores its context
		return 1, nil
	})
	c := f.composer(t)

	start := time.Now()
	state, err := c.ComposeMarketState(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Less(t, time.Since(start), time.Second)
	assert.Nil(t, state.MarkPrice)
	assert.Nil(t, state.High24h)
	assert.Equal(t, domain.SourceLive, state.Source)
}

func TestComposer_BranchPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.opts.Prices = priceFunc(func(context.Context, domain.Token, domain.Token) (float64, error) {
		panic("boom")
	})
	c := f.composer(t)

	state, err := c.ComposeMarketState(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Nil(t, state.MarkPrice)
}

func TestComposer_CacheHit(t *testing.T) {
	f := newFixture(t)
	orders := &countingOrders{OrderStore: f.orders}
	f.opts.Orders = orders
	c := f.composer(t)

	first, err := c.ComposeMarketState(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLive, first.Source)

	second, err := c.ComposeMarketState(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCached, second.Source)
	assert.Equal(t, first.Bids, second.Bids)
	assert.Equal(t, int32(1), orders.calls.Load())

	// Mutating a returned state must not affect the cache.
	second.Bids[0].Price = "1"
	third, _ := c.ComposeMarketState(context.Background(), "BTC-USDC")
	assert.Equal(t, first.Bids[0].Price, third.Bids[0].Price)

	c.Invalidate("BTC-USDC")
	fourth, err := c.ComposeMarketState(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLive, fourth.Source)
	assert.Equal(t, int32(2), orders.calls.Load())
}

func TestComposer_CacheSharedAcrossAliases(t *testing.T) {
	f := newFixture(t)
	orders := &countingOrders{OrderStore: f.orders}
	f.opts.Orders = orders
	c := f.composer(t)
	ctx := context.Background()

	bySymbol, err := c.ComposeMarketState(ctx, "BTC-USDC")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLive, bySymbol.Source)

	byID, err := c.ComposeMarketState(ctx, "btc-usdc")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCached, byID.Source)
	assert.Equal(t, 1, f.opts.StateCache.Len())
	assert.Equal(t, int32(1), orders.calls.Load())

	c.Invalidate("btc-usdc")
	assert.Zero(t, f.opts.StateCache.Len())

	again, err := c.ComposeMarketState(ctx, "BTC-USDC")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLive, again.Source)
	assert.Equal(t, int32(2), orders.calls.Load())
}

func TestComposer_MockPair(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.InsertPair(context.Background(), &domain.TradingPair{
		ID: "doge-usdc", Symbol: "DOGE-USDC",
		Base: domain.Token{Symbol: "DOGE"}, Quote: domain.Token{Symbol: "USDC"},
		Active: true, Mock: true, MockPrice: 0.15,
	}))
	var priceCalls atomic.Int32
	f.opts.Prices = priceFunc(func(context.Context, domain.Token, domain.Token) (float64, error) {
		priceCalls.Add(1)
		return 0, domain.ErrInvalidAddress
	})
	c := f.composer(t)

	state, err := c.ComposeMarketState(context.Background(), "DOGE-USDC")
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, domain.SourceMock, state.Source)
	assert.True(t, state.IsActive)
	assert.Len(t, state.Bids, 10)
	assert.Len(t, state.Asks, 10)
	require.NotNil(t, state.LastPrice)
	assert.Equal(t, 0.15, *state.LastPrice)
	assert.InDelta(t, 0.15, *state.MarkPrice, 0.15*0.0011)
	assert.Zero(t, priceCalls.Load())
}

func TestComposer_CancelledContext(t *testing.T) {
	c := newFixture(t).composer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := c.ComposeMarketState(ctx, "BTC-USDC")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, state)
}

func TestComposer_DedupeInflight(t *testing.T) {
	f := newFixture(t)
	f.opts.DedupeInflight = true
	var calls atomic.Int32
	f.opts.Prices = priceFunc(func(context.Context, domain.Token, domain.Token) (float64, error) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		return 68000, nil
	})
	c := f.composer(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := c.ComposeMarketState(context.Background(), "BTC-USDC")
			assert.NoError(t, err)
			assert.NotNil(t, state)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestComposer_ListMarketStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eth := &domain.TradingPair{
		ID: "eth-usdc", Symbol: "ETH-USDC",
		Base:  domain.Token{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18},
		Quote: usdc, Active: true,
	}
	inactive := &domain.TradingPair{
		ID: "link-usdc", Symbol: "LINK-USDC",
		Base:  domain.Token{Address: "0x514910771AF9Ca656af840dff83E8264EcF986CA", Symbol: "LINK", Decimals: 18},
		Quote: usdc, Active: false,
	}
	require.NoError(t, f.registry.InsertPair(ctx, eth))
	require.NoError(t, f.registry.InsertPair(ctx, inactive))
	c := f.composer(t)

	states, err := c.ListMarketStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "BTC-USDC", states[0].Symbol)
	assert.Equal(t, "ETH-USDC", states[1].Symbol)

	again, err := c.ListMarketStates(ctx)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, domain.SourceCached, again[0].Source)
}

func TestComposer_GetOrderBook(t *testing.T) {
	c := newFixture(t).composer(t)

	snap, ok := c.GetOrderBook(context.Background(), "BTC-USDC")
	require.True(t, ok)
	assert.Len(t, snap.Bids, 10)
	assert.Len(t, snap.Asks, 10)
	assert.False(t, math.IsNaN(parseF(t, snap.Bids[0].Price)))
}

func TestNewComposer_Validation(t *testing.T) {
	f := newFixture(t)
	f.opts.Registry = nil
	_, err := NewComposer(f.opts)
	assert.Error(t, err)
}

type failingRegistry struct{}

func (failingRegistry) GetPairBySymbolOrID(context.Context, string) (*domain.TradingPair, error) {
	return nil, errors.New("registry down")
}

func (failingRegistry) ListPairs(context.Context) ([]*domain.TradingPair, error) {
	return nil, errors.New("registry down")
}
