package clickhouse

import (
	"context"
	"fmt"
	"time"

	"market-state-engine/internal/domain"
	"market-state-engine/internal/observability"
	"market-state-engine/internal/stats"
	"market-state-engine/internal/storage"
)

// Trade is one executed trade row.
type Trade struct {
	Pair       string // stats key, e.g. "BTC/USDC"
	TradeID    string
	Price      float64
	Size       float64
	ExecutedAt time.Time
}

// StatsStore computes rolling 24h statistics from the trades table.
type StatsStore struct {
	conn   *Conn
	window time.Duration
	now    func() time.Time
}

// NewStatsStore creates a new StatsStore over a 24h window.
func NewStatsStore(conn *Conn) *StatsStore {
	return &StatsStore{conn: conn, window: 24 * time.Hour, now: time.Now}
}

// Compile-time interface check.
var _ stats.Provider = (*StatsStore)(nil)

// InsertTrades appends trades. Rows are deduplicated by
// (pair, executed_at, trade_id) at merge time.
func (s *StatsStore) InsertTrades(ctx context.Context, trades []Trade) (err error) {
	if len(trades) == 0 {
		return nil
	}
	for _, t := range trades {
		if t.Pair == "" || t.TradeID == "" || t.Price <= 0 || t.Size <= 0 {
			return fmt.Errorf("%w: trade %q", storage.ErrInvalidInput, t.TradeID)
		}
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "insert_trades", time.Since(start).Seconds(), err)
	}()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trades (pair, trade_id, price, size, executed_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range trades {
		if err := batch.Append(t.Pair, t.TradeID, t.Price, t.Size, t.ExecutedAt.UTC()); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Get24h implements stats.Provider. Returns stats.ErrUnavailable when the
// pair has no trades inside the window.
func (s *StatsStore) Get24h(ctx context.Context, base, quote string) (_ *domain.Stats24h, err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "get_24h", time.Since(start).Seconds(), err)
	}()

	query := `
		SELECT
			count()                       AS trades,
			argMin(price, executed_at)    AS open,
			argMax(price, executed_at)    AS last,
			max(price)                    AS high,
			min(price)                    AS low,
			sum(size)                     AS volume
		FROM trades FINAL
		WHERE pair = ? AND executed_at >= ?
	`

	var count uint64
	var open, last, high, low, volume float64
	since := s.now().Add(-s.window).UTC()
	if err := s.conn.QueryRow(ctx, query, base+"/"+quote, since).Scan(
		&count, &open, &last, &high, &low, &volume,
	); err != nil {
		return nil, fmt.Errorf("query 24h stats: %w", err)
	}

	if count == 0 {
		return nil, fmt.Errorf("%s/%s: no trades in window: %w", base, quote, stats.ErrUnavailable)
	}

	st := &domain.Stats24h{
		High:      &high,
		Low:       &low,
		Volume:    &volume,
		LastPrice: &last,
	}
	if open > 0 {
		st.PriceChangePercent = (last - open) / open * 100
	}
	return st, nil
}
