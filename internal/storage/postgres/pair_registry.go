package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"market-state-engine/internal/domain"
	"market-state-engine/internal/storage"
)

// PairRegistry implements storage.PairRegistry using PostgreSQL.
type PairRegistry struct {
	pool *Pool
}

// NewPairRegistry creates a new PairRegistry.
func NewPairRegistry(pool *Pool) *PairRegistry {
	return &PairRegistry{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.PairRegistry = (*PairRegistry)(nil)
	_ storage.PairWriter   = (*PairRegistry)(nil)
)

const selectPairs = `
	SELECT
		p.id, p.symbol, p.active, p.mock, p.mock_price,
		b.chain, b.address, b.symbol, b.decimals,
		q.chain, q.address, q.symbol, q.decimals
	FROM trading_pairs p
	JOIN tokens b ON b.id = p.base_token_id
	JOIN tokens q ON q.id = p.quote_token_id
`

// InsertPair adds a pair, creating its tokens if needed.
// Returns ErrDuplicateKey if the pair ID or symbol exists.
func (r *PairRegistry) InsertPair(ctx context.Context, p *domain.TradingPair) (err error) {
	if err := storage.ValidatePair(p); err != nil {
		return err
	}

	start := time.Now()
	defer func() { observe("insert_pair", start, err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	baseID, err := upsertToken(ctx, tx, p.Base)
	if err != nil {
		return fmt.Errorf("upsert base token: %w", err)
	}
	quoteID, err := upsertToken(ctx, tx, p.Quote)
	if err != nil {
		return fmt.Errorf("upsert quote token: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO trading_pairs (
			id, symbol, base_token_id, quote_token_id, active, mock, mock_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Symbol, baseID, quoteID, p.Active, p.Mock, p.MockPrice)
	if err != nil {
		return translate("insert trading pair", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func upsertToken(ctx context.Context, tx pgx.Tx, t domain.Token) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO tokens (chain, address, symbol, decimals)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain, address, symbol) DO UPDATE SET decimals = EXCLUDED.decimals
		RETURNING id
	`, string(t.Chain.Normalize()), t.Address, t.Symbol, t.Decimals).Scan(&id)
	return id, err
}

// SetActive toggles a pair. Returns ErrNotFound if it does not exist.
func (r *PairRegistry) SetActive(ctx context.Context, id string, active bool) (err error) {
	start := time.Now()
	defer func() { observe("set_active", start, err) }()

	tag, err := r.pool.Exec(ctx, `UPDATE trading_pairs SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update trading pair: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetPairBySymbolOrID retrieves a pair by ID, then by symbol.
// Returns ErrNotFound if neither matches.
func (r *PairRegistry) GetPairBySymbolOrID(ctx context.Context, id string) (p *domain.TradingPair, err error) {
	start := time.Now()
	defer func() { observe("get_pair", start, err) }()

	query := selectPairs + `
		WHERE p.id = $1 OR p.symbol = $1
		ORDER BY (p.id = $1) DESC
		LIMIT 1
	`

	p, err = scanPair(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translate("get trading pair", err)
	}
	return p, nil
}

// ListPairs returns all pairs ordered by symbol.
func (r *PairRegistry) ListPairs(ctx context.Context) (pairs []*domain.TradingPair, err error) {
	start := time.Now()
	defer func() { observe("list_pairs", start, err) }()

	rows, err := r.pool.Query(ctx, selectPairs+` ORDER BY p.symbol`)
	if err != nil {
		return nil, fmt.Errorf("list trading pairs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trading pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trading pairs: %w", err)
	}
	return pairs, nil
}

// scanPair scans a single row into TradingPair.
func scanPair(row pgx.Row) (*domain.TradingPair, error) {
	var (
		p                     domain.TradingPair
		baseChain, quoteChain string
	)

	err := row.Scan(
		&p.ID,
		&p.Symbol,
		&p.Active,
		&p.Mock,
		&p.MockPrice,
		&baseChain,
		&p.Base.Address,
		&p.Base.Symbol,
		&p.Base.Decimals,
		&quoteChain,
		&p.Quote.Address,
		&p.Quote.Symbol,
		&p.Quote.Decimals,
	)
	if err != nil {
		return nil, err
	}

	p.Base.Chain = domain.Chain(baseChain)
	p.Quote.Chain = domain.Chain(quoteChain)
	return &p, nil
}
