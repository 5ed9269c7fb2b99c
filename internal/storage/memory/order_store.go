package memory

import (
	"context"
	"sync"

	"market-state-engine/internal/domain"
	"market-state-engine/internal/storage"
)

// OrderStore is an in-memory implementation of storage.OrderStore.
type OrderStore struct {
	mu     sync.RWMutex
	byPair map[string][]domain.Order // open orders in insertion order
	pairOf map[string]string         // order id -> pair id, open orders only
	seen   map[string]struct{}       // every id ever inserted
}

// NewOrderStore creates a new in-memory order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		byPair: make(map[string][]domain.Order),
		pairOf: make(map[string]string),
		seen:   make(map[string]struct{}),
	}
}

// InsertOrder adds an open order. Returns ErrDuplicateKey if the ID was used before.
func (s *OrderStore) InsertOrder(_ context.Context, o domain.Order) error {
	if err := storage.ValidateOrder(o); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[o.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.seen[o.ID] = struct{}{}
	s.pairOf[o.ID] = o.PairID
	s.byPair[o.PairID] = append(s.byPair[o.PairID], o)
	return nil
}

// CloseOrder removes an open order. Returns ErrNotFound if it is not open.
func (s *OrderStore) CloseOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairID, exists := s.pairOf[id]
	if !exists {
		return storage.ErrNotFound
	}
	delete(s.pairOf, id)

	orders := s.byPair[pairID]
	for i, o := range orders {
		if o.ID == id {
			s.byPair[pairID] = append(orders[:i:i], orders[i+1:]...)
			break
		}
	}
	if len(s.byPair[pairID]) == 0 {
		delete(s.byPair, pairID)
	}
	return nil
}

// GetOpenOrders returns a copy of the pair's open orders.
func (s *OrderStore) GetOpenOrders(_ context.Context, pairID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := s.byPair[pairID]
	result := make([]domain.Order, len(orders))
	copy(result, orders)
	return result, nil
}

var (
	_ storage.OrderStore  = (*OrderStore)(nil)
	_ storage.OrderWriter = (*OrderStore)(nil)
)
