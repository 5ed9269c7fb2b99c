package storage

import (
	"context"

	"market-state-engine/internal/domain"
)

// PairRegistry provides read access to configured trading pairs.
type PairRegistry interface {
	// GetPairBySymbolOrID looks a pair up by registry ID or by symbol
	// (e.g. "BTC-USDC"). Returns ErrNotFound if neither matches.
	GetPairBySymbolOrID(ctx context.Context, id string) (*domain.TradingPair, error)

	// ListPairs returns every registered pair ordered by symbol.
	ListPairs(ctx context.Context) ([]*domain.TradingPair, error)
}

// PairWriter registers trading pairs.
type PairWriter interface {
	// InsertPair adds a pair and its tokens. Returns ErrDuplicateKey if the
	// pair ID or symbol exists.
	InsertPair(ctx context.Context, p *domain.TradingPair) error

	// SetActive toggles whether a pair is tradable. Returns ErrNotFound if
	// the pair does not exist.
	SetActive(ctx context.Context, id string, active bool) error
}

// OrderStore provides access to resting orders.
type OrderStore interface {
	// GetOpenOrders returns the open orders of a pair in insertion order.
	// An unknown pair has no orders and is not an error.
	GetOpenOrders(ctx context.Context, pairID string) ([]domain.Order, error)
}

// OrderWriter mutates resting orders.
type OrderWriter interface {
	// InsertOrder adds an open order. Returns ErrDuplicateKey if the ID exists.
	InsertOrder(ctx context.Context, o domain.Order) error

	// CloseOrder removes an order from the open set. Returns ErrNotFound if
	// no open order has the ID.
	CloseOrder(ctx context.Context, id string) error
}
