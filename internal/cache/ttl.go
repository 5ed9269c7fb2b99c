// Package cache provides the in-process TTL caches used by the composer.
package cache

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// Entry is a cached value with its write time.
type Entry[T any] struct {
	Value     T
	WrittenAt time.Time
	Stale     bool // older than the cache TTL
}

type shard[T any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[T]
}

// TTL is a sharded key/value cache with a fixed time-to-live.
// Expired entries are not evicted; they are reported as misses by Get and
// as stale by GetEntry until overwritten or deleted.
// Safe for concurrent use.
type TTL[T any] struct {
	ttl    time.Duration
	now    func() time.Time
	shards [shardCount]*shard[T]
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates a cache whose entries are fresh for ttl.
func New[T any](ttl time.Duration, opts ...Option) *TTL[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	c := &TTL[T]{ttl: ttl, now: o.now}
	for i := range c.shards {
		c.shards[i] = &shard[T]{entries: make(map[string]Entry[T])}
	}
	return c
}

func (c *TTL[T]) shardFor(key string) *shard[T] {
	return c.shards[xxhash.Sum64String(key)%shardCount]
}

// Get returns the value for key if present and fresh.
func (c *TTL[T]) Get(key string) (T, bool) {
	e, ok := c.GetEntry(key)
	if !ok || e.Stale {
		var zero T
		return zero, false
	}
	return e.Value, true
}

// GetEntry returns the entry for key, fresh or stale.
func (c *TTL[T]) GetEntry(key string) (Entry[T], bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return Entry[T]{}, false
	}
	e.Stale = c.now().Sub(e.WrittenAt) >= c.ttl
	return e, true
}

// Set stores value under key, replacing any previous entry.
func (c *TTL[T]) Set(key string, value T) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.entries[key] = Entry[T]{Value: value, WrittenAt: c.now()}
	s.mu.Unlock()
}

// Delete removes key.
func (c *TTL[T]) Delete(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Clear removes every entry.
func (c *TTL[T]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[string]Entry[T])
		s.mu.Unlock()
	}
}

// Len returns the number of entries, fresh or stale.
func (c *TTL[T]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
