// Package stats provides 24h market statistics.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"market-state-engine/internal/cache"
	"market-state-engine/internal/domain"
	"market-state-engine/internal/observability"
)

// ErrUnavailable is returned when no statistics exist for a pair.
var ErrUnavailable = errors.New("stats unavailable")

// Provider returns rolling 24h statistics for a base/quote pair.
type Provider interface {
	Get24h(ctx context.Context, base, quote string) (*domain.Stats24h, error)
}

// None is a Provider without data.
type None struct{}

// Get24h always returns ErrUnavailable.
func (None) Get24h(context.Context, string, string) (*domain.Stats24h, error) {
	return nil, ErrUnavailable
}

// Chain tries providers in order and returns the first success.
type Chain []Provider

// Get24h implements Provider.
func (c Chain) Get24h(ctx context.Context, base, quote string) (*domain.Stats24h, error) {
	errs := make([]error, 0, len(c))
	for _, p := range c {
		s, err := p.Get24h(ctx, base, quote)
		if err == nil && s != nil {
			return s, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%s/%s: %w", base, quote, errors.Join(append([]error{ErrUnavailable}, errs...)...))
}

// Cached wraps a Provider with a TTL cache. When the inner provider fails,
// the last known value is served even if stale.
type Cached struct {
	inner  Provider
	cache  *cache.TTL[*domain.Stats24h]
	logger *slog.Logger
}

// NewCached creates a caching provider.
func NewCached(inner Provider, c *cache.TTL[*domain.Stats24h], logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{inner: inner, cache: c, logger: logger}
}

// Get24h implements Provider.
func (c *Cached) Get24h(ctx context.Context, base, quote string) (*domain.Stats24h, error) {
	key := base + "/" + quote

	entry, found := c.cache.GetEntry(key)
	if found && !entry.Stale {
		observability.RecordCacheLookup("stats", true)
		return entry.Value.Clone(), nil
	}
	observability.RecordCacheLookup("stats", false)

	s, err := c.inner.Get24h(ctx, base, quote)
	if err != nil {
		if found {
			c.logger.Warn("serving stale stats",
				slog.String("pair", key),
				slog.Time("written_at", entry.WrittenAt),
				slog.String("error", err.Error()),
			)
			return entry.Value.Clone(), nil
		}
		return nil, err
	}

	c.cache.Set(key, s.Clone())
	return s, nil
}

// Invalidate drops the cached value for a pair.
func (c *Cached) Invalidate(base, quote string) {
	c.cache.Delete(base + "/" + quote)
}

var (
	_ Provider = None{}
	_ Provider = Chain(nil)
	_ Provider = (*Cached)(nil)
)
