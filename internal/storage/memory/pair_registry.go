package memory

import (
	"context"
	"sort"
	"sync"

	"market-state-engine/internal/domain"
	"market-state-engine/internal/storage"
)

// PairRegistry is an in-memory implementation of storage.PairRegistry.
type PairRegistry struct {
	mu       sync.RWMutex
	byID     map[string]*domain.TradingPair
	bySymbol map[string]*domain.TradingPair
}

// NewPairRegistry creates a new in-memory pair registry.
func NewPairRegistry() *PairRegistry {
	return &PairRegistry{
		byID:     make(map[string]*domain.TradingPair),
		bySymbol: make(map[string]*domain.TradingPair),
	}
}

// InsertPair adds a pair. Returns ErrDuplicateKey if the ID or symbol exists.
func (r *PairRegistry) InsertPair(_ context.Context, p *domain.TradingPair) error {
	if err := storage.ValidatePair(p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[p.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := r.bySymbol[p.Symbol]; exists {
		return storage.ErrDuplicateKey
	}

	pairCopy := *p
	r.byID[p.ID] = &pairCopy
	r.bySymbol[p.Symbol] = &pairCopy
	return nil
}

// SetActive toggles a pair. Returns ErrNotFound if it does not exist.
func (r *PairRegistry) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.byID[id]
	if !exists {
		return storage.ErrNotFound
	}
	p.Active = active
	return nil
}

// GetPairBySymbolOrID retrieves a pair by ID, then by symbol.
func (r *PairRegistry) GetPairBySymbolOrID(_ context.Context, id string) (*domain.TradingPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.byID[id]
	if !exists {
		p, exists = r.bySymbol[id]
	}
	if !exists {
		return nil, storage.ErrNotFound
	}

	pairCopy := *p
	return &pairCopy, nil
}

// ListPairs returns all pairs ordered by symbol.
func (r *PairRegistry) ListPairs(_ context.Context) ([]*domain.TradingPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.TradingPair, 0, len(r.byID))
	for _, p := range r.byID {
		pairCopy := *p
		result = append(result, &pairCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})
	return result, nil
}

var (
	_ storage.PairRegistry = (*PairRegistry)(nil)
	_ storage.PairWriter   = (*PairRegistry)(nil)
)
