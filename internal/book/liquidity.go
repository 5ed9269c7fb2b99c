package book

import (
	"fmt"
	"strings"
	"time"

	"market-state-engine/internal/domain"
)

// LiquidityMode selects how real orders and synthetic depth combine.
type LiquidityMode string

const (
	// ModeFallback uses real orders for both sides whenever the order store
	// returned any, and the synthetic ladder otherwise.
	ModeFallback LiquidityMode = "fallback"
	// ModeRealOnly never adds synthetic depth.
	ModeRealOnly LiquidityMode = "real_only"
	// ModeSyntheticOnly ignores real orders.
	ModeSyntheticOnly LiquidityMode = "synthetic_only"
	// ModeBlended merges real and synthetic levels.
	ModeBlended LiquidityMode = "blended"
)

// String returns the string representation of LiquidityMode.
func (m LiquidityMode) String() string {
	return string(m)
}

// IsValid checks if the mode is a valid value.
func (m LiquidityMode) IsValid() bool {
	switch m {
	case ModeFallback, ModeRealOnly, ModeSyntheticOnly, ModeBlended:
		return true
	}
	return false
}

// ParseLiquidityMode parses a mode name. Empty means ModeFallback.
func ParseLiquidityMode(s string) (LiquidityMode, error) {
	if s == "" {
		return ModeFallback, nil
	}
	m := LiquidityMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("unknown liquidity mode %q", s)
	}
	return m, nil
}

// LiquiditySource builds the book for a pair from its open orders and mid.
type LiquiditySource struct {
	mode      LiquidityMode
	generator *SyntheticGenerator
}

// NewLiquiditySource creates a source. An invalid mode falls back to
// ModeFallback.
func NewLiquiditySource(mode LiquidityMode, generator *SyntheticGenerator) *LiquiditySource {
	if !mode.IsValid() {
		mode = ModeFallback
	}
	return &LiquiditySource{mode: mode, generator: generator}
}

// Mode returns the configured mode.
func (s *LiquiditySource) Mode() LiquidityMode {
	return s.mode
}

// Generator returns the synthetic generator.
func (s *LiquiditySource) Generator() *SyntheticGenerator {
	return s.generator
}

// Build returns the book snapshot for pairID. hasMid reports whether mid is
// a resolved price; without one no synthetic depth is produced.
func (s *LiquiditySource) Build(pairID string, orders []domain.Order, mid float64, hasMid bool, now time.Time) domain.OrderBookSnapshot {
	synthetic := func() domain.OrderBookSnapshot {
		if !hasMid || s.generator == nil {
			return domain.EmptySnapshot()
		}
		return s.generator.Generate(pairID, mid, now)
	}

	switch s.mode {
	case ModeRealOnly:
		return BuildSnapshot(orders)
	case ModeSyntheticOnly:
		return synthetic()
	case ModeBlended:
		resting := BuildSnapshot(orders)
		syn := synthetic()
		return combine(append(resting.Bids, syn.Bids...), append(resting.Asks, syn.Asks...))
	default:
		// Any open order rules out synthetic depth, even one that nets away
		// or fails to parse.
		if len(orders) > 0 {
			return BuildSnapshot(orders)
		}
		return synthetic()
	}
}
