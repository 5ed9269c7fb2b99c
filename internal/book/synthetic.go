package book

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"

	"market-state-engine/internal/domain"
	"market-state-engine/internal/observability"
)

// SyntheticConfig holds the synthetic ladder parameters.
type SyntheticConfig struct {
	DepthLevels   int           `mapstructure:"depth_levels"`
	SpreadStep    float64       `mapstructure:"spread_step"`
	MidJitter     float64       `mapstructure:"mid_jitter"`
	MinSize       float64       `mapstructure:"min_size"`
	MaxSize       float64       `mapstructure:"max_size"`
	PriceDecimals int32         `mapstructure:"price_decimals"`
	SizeDecimals  int32         `mapstructure:"size_decimals"`
	RefreshWindow time.Duration `mapstructure:"refresh_window"`
}

// DefaultSyntheticConfig returns the default ladder shape: 10 levels per
// side, 0.2% apart, around a mid jittered by up to 0.1%.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		DepthLevels:   10,
		SpreadStep:    0.002,
		MidJitter:     0.001,
		MinSize:       0.05,
		MaxSize:       2.5,
		PriceDecimals: 8,
		SizeDecimals:  4,
		RefreshWindow: 3 * time.Second,
	}
}

// Validate checks the configuration.
func (c SyntheticConfig) Validate() error {
	switch {
	case c.DepthLevels <= 0:
		return fmt.Errorf("depth_levels must be positive, got %d", c.DepthLevels)
	case c.SpreadStep <= 0 || float64(c.DepthLevels)*c.SpreadStep >= 1:
		return fmt.Errorf("spread_step %v out of range for %d levels", c.SpreadStep, c.DepthLevels)
	case c.MidJitter < 0 || c.MidJitter >= 1:
		return fmt.Errorf("mid_jitter must be in [0, 1), got %v", c.MidJitter)
	case c.MinSize <= 0 || c.MaxSize < c.MinSize:
		return fmt.Errorf("invalid size range [%v, %v]", c.MinSize, c.MaxSize)
	case c.PriceDecimals < 0 || c.SizeDecimals < 0:
		return fmt.Errorf("decimals must be non-negative")
	case c.RefreshWindow < 0:
		return fmt.Errorf("refresh_window must be non-negative")
	}
	return nil
}

const generatorShards = 16

type ladder struct {
	generatedAt time.Time
	snapshot    domain.OrderBookSnapshot
}

type ladderShard struct {
	mu      sync.RWMutex
	ladders map[string]ladder
}

// SyntheticGenerator produces placeholder depth around a mid price. A
// pair's ladder is frozen for RefreshWindow after it is generated.
// Safe for concurrent use.
type SyntheticGenerator struct {
	cfg    SyntheticConfig
	logger *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	shards [generatorShards]*ladderShard
}

// GeneratorOption configures a SyntheticGenerator.
type GeneratorOption func(*SyntheticGenerator)

// WithRand sets the random source.
func WithRand(r *rand.Rand) GeneratorOption {
	return func(g *SyntheticGenerator) {
		g.rng = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GeneratorOption {
	return func(g *SyntheticGenerator) {
		g.logger = logger
	}
}

// NewSyntheticGenerator creates a generator.
func NewSyntheticGenerator(cfg SyntheticConfig, opts ...GeneratorOption) *SyntheticGenerator {
	g := &SyntheticGenerator{cfg: cfg}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	for i := range g.shards {
		g.shards[i] = &ladderShard{ladders: make(map[string]ladder)}
	}
	return g
}

func (g *SyntheticGenerator) shardFor(pairID string) *ladderShard {
	return g.shards[xxhash.Sum64String(pairID)%generatorShards]
}

// Generate returns the ladder for pairID around mid. Within the refresh
// window the previous ladder is returned unchanged. A mid that is not a
// positive finite number yields an empty snapshot and nothing is cached.
func (g *SyntheticGenerator) Generate(pairID string, mid float64, now time.Time) domain.OrderBookSnapshot {
	if mid <= 0 || math.IsNaN(mid) || math.IsInf(mid, 0) {
		return domain.EmptySnapshot()
	}

	s := g.shardFor(pairID)

	s.mu.RLock()
	l, ok := s.ladders[pairID]
	s.mu.RUnlock()
	if ok && now.Sub(l.generatedAt) < g.cfg.RefreshWindow {
		return l.snapshot.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if l, ok := s.ladders[pairID]; ok && now.Sub(l.generatedAt) < g.cfg.RefreshWindow {
		return l.snapshot.Clone()
	}

	snap := g.build(mid)
	s.ladders[pairID] = ladder{generatedAt: now, snapshot: snap}
	observability.RecordSyntheticRegeneration()
	g.logger.Debug("synthetic ladder regenerated",
		slog.String("pair", pairID),
		slog.Float64("mid", mid),
	)

	return snap.Clone()
}

func (g *SyntheticGenerator) build(mid float64) domain.OrderBookSnapshot {
	g.rngMu.Lock()
	defer g.rngMu.Unlock()

	adj := mid * (1 + (g.rng.Float64()*2-1)*g.cfg.MidJitter)

	snap := domain.OrderBookSnapshot{
		Bids: make([]domain.OrderLevel, 0, g.cfg.DepthLevels),
		Asks: make([]domain.OrderLevel, 0, g.cfg.DepthLevels),
	}
	for i := 1; i <= g.cfg.DepthLevels; i++ {
		step := float64(i) * g.cfg.SpreadStep
		snap.Bids = append(snap.Bids, domain.OrderLevel{
			Price: g.roundPrice(adj * (1 - step)),
			Size:  g.randomSize(),
		})
		snap.Asks = append(snap.Asks, domain.OrderLevel{
			Price: g.roundPrice(adj * (1 + step)),
			Size:  g.randomSize(),
		})
	}

	// Rounding can collapse adjacent levels for very small mids.
	snap.Bids = Merge(snap.Bids, domain.BookSideBids)
	snap.Asks = Merge(snap.Asks, domain.BookSideAsks)
	return snap
}

func (g *SyntheticGenerator) roundPrice(p float64) string {
	return decimal.NewFromFloat(p).Round(g.cfg.PriceDecimals).String()
}

// randomSize must be called with rngMu held.
func (g *SyntheticGenerator) randomSize() string {
	size := g.cfg.MinSize + g.rng.Float64()*(g.cfg.MaxSize-g.cfg.MinSize)
	return decimal.NewFromFloat(size).Round(g.cfg.SizeDecimals).String()
}

// Forget drops the frozen ladder for pairID.
func (g *SyntheticGenerator) Forget(pairID string) {
	s := g.shardFor(pairID)
	s.mu.Lock()
	delete(s.ladders, pairID)
	s.mu.Unlock()
}

// Reset drops every frozen ladder.
func (g *SyntheticGenerator) Reset() {
	for _, s := range g.shards {
		s.mu.Lock()
		s.ladders = make(map[string]ladder)
		s.mu.Unlock()
	}
}
