// Package market composes per-pair market state from the AMM price, the
// resting order book and 24h statistics.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"market-state-engine/internal/book"
	"market-state-engine/internal/cache"
	"market-state-engine/internal/domain"
	"market-state-engine/internal/observability"
	"market-state-engine/internal/pricing"
	"market-state-engine/internal/stats"
	"market-state-engine/internal/storage"
)

// Defaults for Options.
const (
	DefaultBranchTimeout   = 4 * time.Second
	DefaultListConcurrency = 8
)

const listCacheKey = "markets"

// PriceSource resolves a mid price for a token pair.
type PriceSource interface {
	Resolve(ctx context.Context, tokenIn, tokenOut domain.Token) (float64, error)
}

var _ PriceSource = (*pricing.Resolver)(nil)

// Options configures a Composer.
type Options struct {
	Registry  storage.PairRegistry
	Orders    storage.OrderStore
	Prices    PriceSource
	Stats     stats.Provider // nil means no statistics
	Liquidity *book.LiquiditySource

	StateCache *cache.TTL[*domain.MarketState]   // short TTL
	ListCache  *cache.TTL[[]*domain.MarketState] // short TTL, optional

	BranchTimeout   time.Duration
	ListConcurrency int
	DedupeInflight  bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Composer assembles MarketState snapshots. Safe for concurrent use.
type Composer struct {
	registry  storage.PairRegistry
	orders    storage.OrderStore
	prices    PriceSource
	stats     stats.Provider
	liquidity *book.LiquiditySource

	states *cache.TTL[*domain.MarketState]
	lists  *cache.TTL[[]*domain.MarketState]

	branchTimeout   time.Duration
	listConcurrency int
	dedupe          bool
	flight          singleflight.Group

	// aliases maps every symbol or ID a pair was requested by to its
	// registry ID, the state cache key.
	aliases sync.Map

	logger *slog.Logger
	now    func() time.Time
}

// NewComposer creates a composer.
func NewComposer(opts Options) (*Composer, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("pair registry is required")
	case opts.Orders == nil:
		return nil, errors.New("order store is required")
	case opts.Prices == nil:
		return nil, errors.New("price source is required")
	case opts.Liquidity == nil:
		return nil, errors.New("liquidity source is required")
	case opts.StateCache == nil:
		return nil, errors.New("state cache is required")
	}

	c := &Composer{
		registry:        opts.Registry,
		orders:          opts.Orders,
		prices:          opts.Prices,
		stats:           opts.Stats,
		liquidity:       opts.Liquidity,
		states:          opts.StateCache,
		lists:           opts.ListCache,
		branchTimeout:   opts.BranchTimeout,
		listConcurrency: opts.ListConcurrency,
		dedupe:          opts.DedupeInflight,
		logger:          opts.Logger,
		now:             opts.Now,
	}
	if c.stats == nil {
		c.stats = stats.None{}
	}
	if c.branchTimeout <= 0 {
		c.branchTimeout = DefaultBranchTimeout
	}
	if c.listConcurrency <= 0 {
		c.listConcurrency = DefaultListConcurrency
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// ComposeMarketState returns the current state of a pair, or nil when the
// pair is unknown or the registry cannot be read. An error is returned only
// when ctx is cancelled.
func (c *Composer) ComposeMarketState(ctx context.Context, pairID string) (*domain.MarketState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := c.cacheKey(pairID)
	if cached, ok := c.states.Get(key); ok {
		observability.RecordCacheLookup("state", true)
		state := cached.Clone()
		state.Source = domain.SourceCached
		return state, nil
	}
	observability.RecordCacheLookup("state", false)

	if !c.dedupe {
		return c.compute(ctx, pairID)
	}

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		return c.compute(ctx, pairID)
	})
	if err != nil {
		return nil, err
	}
	state, _ := v.(*domain.MarketState)
	if state == nil {
		return nil, nil
	}
	return state.Clone(), nil
}

// GetMarketState is ComposeMarketState with an unknown pair reported as
// domain.ErrUnsupportedPair.
func (c *Composer) GetMarketState(ctx context.Context, pairID string) (*domain.MarketState, error) {
	state, err := c.ComposeMarketState(ctx, pairID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%q: %w", pairID, domain.ErrUnsupportedPair)
	}
	return state, nil
}

// GetOrderBook returns the book of a pair's current state.
func (c *Composer) GetOrderBook(ctx context.Context, pairID string) (domain.OrderBookSnapshot, bool) {
	state, err := c.ComposeMarketState(ctx, pairID)
	if err != nil || state == nil {
		return domain.OrderBookSnapshot{}, false
	}
	return state.Book(), true
}

// ListMarketStates returns the states of all active pairs ordered by symbol.
func (c *Composer) ListMarketStates(ctx context.Context) ([]*domain.MarketState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.lists != nil {
		if cached, ok := c.lists.Get(listCacheKey); ok {
			observability.RecordCacheLookup("list", true)
			return cloneStates(cached, domain.SourceCached), nil
		}
		observability.RecordCacheLookup("list", false)
	}

	pairs, err := c.registry.ListPairs(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("list pairs failed", slog.String("error", err.Error()))
		return []*domain.MarketState{}, nil
	}

	var active []*domain.TradingPair
	for _, p := range pairs {
		if p.Active {
			active = append(active, p)
		}
	}

	results := make([]*domain.MarketState, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.listConcurrency)
	for i, p := range active {
		g.Go(func() error {
			state, err := c.ComposeMarketState(gctx, p.ID)
			if err != nil {
				return err
			}
			results[i] = state
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	states := make([]*domain.MarketState, 0, len(results))
	for _, s := range results {
		if s != nil {
			states = append(states, s)
		}
	}

	if c.lists != nil {
		c.lists.Set(listCacheKey, cloneStates(states, ""))
	}
	return states, nil
}

// Invalidate drops cached state for the pair known as pairID, whichever
// alias it was composed under, and the cached pair list. Aliases are
// forgotten so the next lookup goes back to the registry.
func (c *Composer) Invalidate(pairID string) {
	key := c.cacheKey(pairID)
	c.states.Delete(key)
	c.aliases.Range(func(alias, id any) bool {
		if id == key {
			c.aliases.Delete(alias)
		}
		return true
	})
	if c.lists != nil {
		c.lists.Delete(listCacheKey)
	}
}

// cacheKey returns the registry ID for a known alias, else the alias itself.
func (c *Composer) cacheKey(alias string) string {
	if id, ok := c.aliases.Load(alias); ok {
		return id.(string)
	}
	return alias
}

func (c *Composer) rememberAliases(requested string, pair *domain.TradingPair) {
	c.aliases.Store(requested, pair.ID)
	c.aliases.Store(pair.ID, pair.ID)
}

type priceResult struct {
	mid float64
	ok  bool
}

func (c *Composer) compute(ctx context.Context, pairID string) (*domain.MarketState, error) {
	start := time.Now()

	pair, err := c.registry.GetPairBySymbolOrID(ctx, pairID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Error("pair registry lookup failed",
				slog.String("pair", pairID),
				slog.String("error", err.Error()),
			)
		}
		return nil, nil
	}
	c.rememberAliases(pairID, pair)

	var (
		wg          sync.WaitGroup
		price       priceResult
		orders      []domain.Order
		bookFailed  bool
		stats24h    *domain.Stats24h
		statsFailed bool
	)

	if pair.Mock {
		price = priceResult{mid: pair.MockPrice, ok: pair.MockPrice > 0}
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mid, err := runBranch(ctx, domain.BranchPrice, c.branchTimeout, func(ctx context.Context) (float64, error) {
				return c.prices.Resolve(ctx, pair.Base, pair.Quote)
			})
			if err != nil {
				c.degraded(pair, err)
				return
			}
			price = priceResult{mid: mid, ok: mid > 0}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			open, err := runBranch(ctx, domain.BranchBook, c.branchTimeout, func(ctx context.Context) ([]domain.Order, error) {
				return c.orders.GetOpenOrders(ctx, pair.ID)
			})
			if err != nil {
				c.degraded(pair, err)
				bookFailed = true
				return
			}
			orders = open
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s, err := runBranch(ctx, domain.BranchStats, c.branchTimeout, func(ctx context.Context) (*domain.Stats24h, error) {
			return c.stats.Get24h(ctx, pair.Base.Symbol, pair.Quote.Symbol)
		})
		if err != nil {
			c.degraded(pair, err)
			statsFailed = true
			return
		}
		stats24h = s
	}()

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := c.now()
	state := &domain.MarketState{
		PairID: pair.ID,
		Symbol: pair.Symbol,
	}

	switch {
	case pair.Mock:
		state.Source = domain.SourceMock
		snap := domain.EmptySnapshot()
		if gen := c.liquidity.Generator(); gen != nil {
			snap = gen.Generate(pair.ID, price.mid, now)
		}
		state.Bids, state.Asks = snap.Bids, snap.Asks
	case bookFailed:
		state.Source = domain.SourceUnavailable
		state.Bids, state.Asks = []domain.OrderLevel{}, []domain.OrderLevel{}
	default:
		state.Source = domain.SourceLive
		snap := c.liquidity.Build(pair.ID, orders, price.mid, price.ok, now)
		state.Bids, state.Asks = snap.Bids, snap.Asks
	}

	state.MarkPrice = markPrice(state.Bids, state.Asks, price)
	if price.ok {
		mid := price.mid
		state.LastPrice = &mid
	}
	if stats24h != nil && !statsFailed {
		state.PriceChangePercent = stats24h.PriceChangePercent
		state.High24h = stats24h.High
		state.Low24h = stats24h.Low
		state.Volume24h = stats24h.Volume
		if stats24h.LastPrice != nil {
			state.LastPrice = stats24h.LastPrice
		}
	}
	state.IsActive = pair.Active && state.Source != domain.SourceUnavailable
	state.UpdatedAt = now

	c.states.Set(pair.ID, state.Clone())

	observability.RecordCompose(string(state.Source), time.Since(start).Seconds())
	observability.UpdateBookLevels(pair.Symbol, len(state.Bids), len(state.Asks))

	return state, nil
}

// degraded logs and counts a branch replaced by its neutral default.
// Absent data is expected and logged at debug.
func (c *Composer) degraded(pair *domain.TradingPair, err error) {
	var be *domain.BranchError
	branch := "unknown"
	if errors.As(err, &be) {
		branch = string(be.Branch)
	}
	observability.RecordBranchFailure(branch)

	level := slog.LevelWarn
	if errors.Is(err, domain.ErrNoLiquidity) || errors.Is(err, stats.ErrUnavailable) {
		level = slog.LevelDebug
	}
	c.logger.Log(context.Background(), level, "PartialDataDegradation",
		slog.String("pair", pair.Symbol),
		slog.String("branch", branch),
		slog.String("error", err.Error()),
	)
}

// markPrice is the midpoint of the best bid and ask when both exist, else
// the resolved mid, else nil.
func markPrice(bids, asks []domain.OrderLevel, price priceResult) *float64 {
	if len(bids) > 0 && len(asks) > 0 {
		bid, errBid := decimal.NewFromString(bids[0].Price)
		ask, errAsk := decimal.NewFromString(asks[0].Price)
		if errBid == nil && errAsk == nil {
			m := bid.Add(ask).Div(decimal.NewFromInt(2)).InexactFloat64()
			return &m
		}
	}
	if price.ok {
		m := price.mid
		return &m
	}
	return nil
}

func cloneStates(states []*domain.MarketState, source domain.Source) []*domain.MarketState {
	out := make([]*domain.MarketState, len(states))
	for i, s := range states {
		out[i] = s.Clone()
		if source != "" {
			out[i].Source = source
		}
	}
	return out
}
