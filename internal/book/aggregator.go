// Package book assembles order book snapshots from real orders and
// synthetic depth.
package book

import (
	"slices"

	"github.com/shopspring/decimal"

	"market-state-engine/internal/domain"
)

type parsedLevel struct {
	price decimal.Decimal
	size  decimal.Decimal
	// raw is the size as written; empty once the size has been summed or netted.
	raw string
}

// Merge aggregates levels into one canonical book side: unparsable or
// non-positive levels are dropped, sizes at the same price are summed, and
// the result is sorted best price first (bids descending, asks ascending).
// Prices are normalized. A size keeps its original text unless it was summed.
// Merge is idempotent.
func Merge(levels []domain.OrderLevel, side domain.BookSide) []domain.OrderLevel {
	return format(mergeParsed(parseLevels(levels), side))
}

// BuildSnapshot splits orders into bids (buy) and asks (sell), merges each
// side and nets prices present on both sides.
func BuildSnapshot(orders []domain.Order) domain.OrderBookSnapshot {
	var bids, asks []domain.OrderLevel
	for _, o := range orders {
		lvl := domain.OrderLevel{Price: o.Price, Size: o.Size}
		switch o.Side {
		case domain.OrderSideBuy:
			bids = append(bids, lvl)
		case domain.OrderSideSell:
			asks = append(asks, lvl)
		}
	}
	return combine(bids, asks)
}

// combine merges raw bid and ask levels into a snapshot satisfying the
// cross-side uniqueness invariant.
func combine(bids, asks []domain.OrderLevel) domain.OrderBookSnapshot {
	b := mergeParsed(parseLevels(bids), domain.BookSideBids)
	a := mergeParsed(parseLevels(asks), domain.BookSideAsks)
	b, a = netCrossed(b, a)
	return domain.OrderBookSnapshot{Bids: format(b), Asks: format(a)}
}

func parseLevels(levels []domain.OrderLevel) []parsedLevel {
	out := make([]parsedLevel, 0, len(levels))
	for _, l := range levels {
		p, err := decimal.NewFromString(l.Price)
		if err != nil || !p.IsPositive() {
			continue
		}
		s, err := decimal.NewFromString(l.Size)
		if err != nil || !s.IsPositive() {
			continue
		}
		out = append(out, parsedLevel{price: p, size: s, raw: l.Size})
	}
	return out
}

func mergeParsed(levels []parsedLevel, side domain.BookSide) []parsedLevel {
	index := make(map[string]int, len(levels))
	merged := make([]parsedLevel, 0, len(levels))
	for _, l := range levels {
		key := l.price.String()
		if i, ok := index[key]; ok {
			merged[i].size = merged[i].size.Add(l.size)
			merged[i].raw = ""
			continue
		}
		index[key] = len(merged)
		merged = append(merged, l)
	}

	slices.SortFunc(merged, func(x, y parsedLevel) int {
		if side == domain.BookSideBids {
			return y.price.Cmp(x.price)
		}
		return x.price.Cmp(y.price)
	})
	return merged
}

// netCrossed removes prices that appear on both sides. The larger size
// survives on its side reduced by the smaller; equal sizes remove both.
func netCrossed(bids, asks []parsedLevel) ([]parsedLevel, []parsedLevel) {
	askIdx := make(map[string]int, len(asks))
	for i, a := range asks {
		askIdx[a.price.String()] = i
	}

	dropAsk := make(map[int]bool)
	outBids := bids[:0:0]
	for _, b := range bids {
		i, ok := askIdx[b.price.String()]
		if !ok {
			outBids = append(outBids, b)
			continue
		}
		switch b.size.Cmp(asks[i].size) {
		case 1:
			b.size = b.size.Sub(asks[i].size)
			b.raw = ""
			outBids = append(outBids, b)
			dropAsk[i] = true
		case -1:
			asks[i].size = asks[i].size.Sub(b.size)
			asks[i].raw = ""
		default:
			dropAsk[i] = true
		}
	}

	outAsks := asks[:0:0]
	for i, a := range asks {
		if !dropAsk[i] {
			outAsks = append(outAsks, a)
		}
	}
	return outBids, outAsks
}

func format(levels []parsedLevel) []domain.OrderLevel {
	out := make([]domain.OrderLevel, len(levels))
	for i, l := range levels {
		size := l.raw
		if size == "" {
			size = l.size.String()
		}
		out[i] = domain.OrderLevel{Price: l.price.String(), Size: size}
	}
	return out
}
