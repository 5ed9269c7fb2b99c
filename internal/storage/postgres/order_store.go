package postgres

import (
	"context"
	"fmt"
	"time"

	"market-state-engine/internal/domain"
	"market-state-engine/internal/storage"
)

// OrderStore implements storage.OrderStore using PostgreSQL.
// Prices and sizes are NUMERIC columns read back as text, so no precision
// is lost on the way to the aggregator.
type OrderStore struct {
	pool *Pool
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(pool *Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.OrderStore  = (*OrderStore)(nil)
	_ storage.OrderWriter = (*OrderStore)(nil)
)

// InsertOrder adds an open order. Returns ErrDuplicateKey if the ID exists
// and ErrInvalidInput if the pair does not exist.
func (s *OrderStore) InsertOrder(ctx context.Context, o domain.Order) (err error) {
	if err := storage.ValidateOrder(o); err != nil {
		return err
	}

	start := time.Now()
	defer func() { observe("insert_order", start, err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO orders (id, pair_id, side, price, size)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric)
	`, o.ID, o.PairID, string(o.Side), o.Price, o.Size)
	return translate("insert order", err)
}

// CloseOrder marks an open order closed. Returns ErrNotFound if it is not open.
func (s *OrderStore) CloseOrder(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { observe("close_order", start, err) }()

	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = 'closed', closed_at = now()
		WHERE id = $1 AND status = 'open'
	`, id)
	if err != nil {
		return fmt.Errorf("close order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetOpenOrders returns the pair's open orders in insertion order.
func (s *OrderStore) GetOpenOrders(ctx context.Context, pairID string) (orders []domain.Order, err error) {
	start := time.Now()
	defer func() { observe("get_open_orders", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT id, pair_id, side, price::text, size::text
		FROM orders
		WHERE pair_id = $1 AND status = 'open'
		ORDER BY seq ASC
	`, pairID)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()

	orders = []domain.Order{}
	for rows.Next() {
		var (
			o    domain.Order
			side string
		)
		if err := rows.Scan(&o.ID, &o.PairID, &side, &o.Price, &o.Size); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side = domain.OrderSide(side)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}
