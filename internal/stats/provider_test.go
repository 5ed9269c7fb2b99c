package stats

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"market-state-engine/internal/cache"
	"market-state-engine/internal/domain"
)

type countingProvider struct {
	calls atomic.Int32
	stats *domain.Stats24h
	err   error
}

func (p *countingProvider) Get24h(context.Context, string, string) (*domain.Stats24h, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.stats.Clone(), nil
}

func ptr(f float64) *float64 { return &f }

func TestChain_FirstSuccessWins(t *testing.T) {
	first := &countingProvider{err: ErrUnavailable}
	second := &countingProvider{stats: &domain.Stats24h{PriceChangePercent: 1.5}}
	third := &countingProvider{stats: &domain.Stats24h{PriceChangePercent: 9}}

	got, err := Chain{first, second, third}.Get24h(context.Background(), "BTC", "USDC")
	if err != nil {
		t.Fatalf("Get24h: %v", err)
	}
	if got.PriceChangePercent != 1.5 {
		t.Errorf("PriceChangePercent = %v, want 1.5", got.PriceChangePercent)
	}
	if third.calls.Load() != 0 {
		t.Error("chain kept going after a success")
	}
}

func TestChain_AllFail(t *testing.T) {
	boom := errors.New("boom")
	_, err := Chain{None{}, &countingProvider{err: boom}}.Get24h(context.Background(), "BTC", "USDC")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped provider error", err)
	}
}

func TestCached_HitsWithinTTL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	inner := &countingProvider{stats: &domain.Stats24h{LastPrice: ptr(68000)}}
	c := NewCached(inner, cache.New[*domain.Stats24h](5*time.Minute, cache.WithClock(clock)), nil)

	for i := 0; i < 3; i++ {
		got, err := c.Get24h(context.Background(), "BTC", "USDC")
		if err != nil {
			t.Fatalf("Get24h: %v", err)
		}
		if *got.LastPrice != 68000 {
			t.Errorf("LastPrice = %v", *got.LastPrice)
		}
		*got.LastPrice = 1 // must not leak into the cache
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls.Load())
	}

	now = now.Add(5 * time.Minute)
	if _, err := c.Get24h(context.Background(), "BTC", "USDC"); err != nil {
		t.Fatalf("Get24h after TTL: %v", err)
	}
	if inner.calls.Load() != 2 {
		t.Errorf("inner calls = %d, want 2 after expiry", inner.calls.Load())
	}
}

func TestCached_ServesStaleOnError(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	inner := &countingProvider{stats: &domain.Stats24h{PriceChangePercent: -2.5}}
	c := NewCached(inner, cache.New[*domain.Stats24h](time.Minute, cache.WithClock(clock)), nil)

	if _, err := c.Get24h(context.Background(), "ETH", "USDC"); err != nil {
		t.Fatalf("Get24h: %v", err)
	}

	now = now.Add(2 * time.Minute)
	inner.err = errors.New("upstream down")

	got, err := c.Get24h(context.Background(), "ETH", "USDC")
	if err != nil {
		t.Fatalf("expected stale value, got error %v", err)
	}
	if got.PriceChangePercent != -2.5 {
		t.Errorf("PriceChangePercent = %v, want -2.5", got.PriceChangePercent)
	}
}

func TestCached_ErrorWithoutEntry(t *testing.T) {
	inner := &countingProvider{err: ErrUnavailable}
	c := NewCached(inner, cache.New[*domain.Stats24h](time.Minute), nil)

	if _, err := c.Get24h(context.Background(), "X", "Y"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}

	c.Invalidate("X", "Y")
}
