package book

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"market-state-engine/internal/domain"
)

func lv(price, size string) domain.OrderLevel {
	return domain.OrderLevel{Price: price, Size: size}
}

func TestMerge_SumsSamePrice(t *testing.T) {
	got := Merge([]domain.OrderLevel{lv("100", "1.0"), lv("100", "0.5")}, domain.BookSideBids)
	want := []domain.OrderLevel{lv("100", "1.5")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge = %v, want %v", got, want)
	}
}

func TestMerge_NormalizesPrice(t *testing.T) {
	got := Merge([]domain.OrderLevel{lv("100.00", "1"), lv("100", "2"), lv("1e2", "0.25")}, domain.BookSideAsks)
	want := []domain.OrderLevel{lv("100", "3.25")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge = %v, want %v", got, want)
	}
}

func TestMerge_Ordering(t *testing.T) {
	levels := []domain.OrderLevel{
		lv("99.5", "1"), lv("101", "2"), lv("100", "3"), lv("99.5", "1"),
	}

	bids := Merge(levels, domain.BookSideBids)
	wantBids := []domain.OrderLevel{lv("101", "2"), lv("100", "3"), lv("99.5", "2")}
	if !reflect.DeepEqual(bids, wantBids) {
		t.Errorf("bids = %v, want %v", bids, wantBids)
	}

	asks := Merge(levels, domain.BookSideAsks)
	wantAsks := []domain.OrderLevel{lv("99.5", "2"), lv("100", "3"), lv("101", "2")}
	if !reflect.DeepEqual(asks, wantAsks) {
		t.Errorf("asks = %v, want %v", asks, wantAsks)
	}
}

func TestMerge_DropsInvalid(t *testing.T) {
	levels := []domain.OrderLevel{
		lv("abc", "1"), lv("100", "xyz"), lv("0", "1"), lv("-5", "1"),
		lv("100", "0"), lv("100", "-1"), lv("", ""), lv("50", "1"),
	}
	got := Merge(levels, domain.BookSideBids)
	want := []domain.OrderLevel{lv("50", "1")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge = %v, want %v", got, want)
	}
}

func TestMerge_KeepsSizeText(t *testing.T) {
	got := Merge([]domain.OrderLevel{lv("67950.00", "1.0"), lv("67900", "0.500"), lv("67900", "0.25")}, domain.BookSideBids)
	want := []domain.OrderLevel{lv("67950", "1.0"), lv("67900", "0.75")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge = %v, want %v", got, want)
	}
}

func TestMerge_Empty(t *testing.T) {
	got := Merge(nil, domain.BookSideBids)
	if got == nil || len(got) != 0 {
		t.Errorf("Merge(nil) = %#v, want empty non-nil slice", got)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	levels := []domain.OrderLevel{
		lv("67950.10", "1.0"), lv("67950.1", "0.2"), lv("67800", "3"),
		lv("68010.5", "0.75"), lv("67800.000", "0.5"),
	}
	for _, side := range []domain.BookSide{domain.BookSideBids, domain.BookSideAsks} {
		once := Merge(levels, side)
		twice := Merge(once, side)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("%s: Merge not idempotent: %v vs %v", side, once, twice)
		}
	}
}

func TestMerge_StrictlyOrderedAndUnique(t *testing.T) {
	levels := make([]domain.OrderLevel, 0, 50)
	for i := 0; i < 50; i++ {
		levels = append(levels, lv(decimal.NewFromInt(int64(100+(i*7)%13)).String(), "1"))
	}

	bids := Merge(levels, domain.BookSideBids)
	for i := 1; i < len(bids); i++ {
		prev := decimal.RequireFromString(bids[i-1].Price)
		cur := decimal.RequireFromString(bids[i].Price)
		if !prev.GreaterThan(cur) {
			t.Fatalf("bids not strictly decreasing at %d: %s, %s", i, prev, cur)
		}
	}

	asks := Merge(levels, domain.BookSideAsks)
	for i := 1; i < len(asks); i++ {
		prev := decimal.RequireFromString(asks[i-1].Price)
		cur := decimal.RequireFromString(asks[i].Price)
		if !prev.LessThan(cur) {
			t.Fatalf("asks not strictly increasing at %d: %s, %s", i, prev, cur)
		}
	}
}

func TestBuildSnapshot_SplitsBySide(t *testing.T) {
	orders := []domain.Order{
		{ID: "1", Side: domain.OrderSideBuy, Price: "67950", Size: "1.0"},
		{ID: "2", Side: domain.OrderSideSell, Price: "68050", Size: "0.4"},
		{ID: "3", Side: domain.OrderSideBuy, Price: "67900", Size: "2"},
		{ID: "4", Side: "bogus", Price: "1", Size: "1"},
	}
	snap := BuildSnapshot(orders)

	wantBids := []domain.OrderLevel{lv("67950", "1.0"), lv("67900", "2")}
	wantAsks := []domain.OrderLevel{lv("68050", "0.4")}
	if !reflect.DeepEqual(snap.Bids, wantBids) {
		t.Errorf("bids = %v, want %v", snap.Bids, wantBids)
	}
	if !reflect.DeepEqual(snap.Asks, wantAsks) {
		t.Errorf("asks = %v, want %v", snap.Asks, wantAsks)
	}
}

func TestBuildSnapshot_NetsCrossSidePrices(t *testing.T) {
	tests := []struct {
		name     string
		bidSize  string
		askSize  string
		wantBids []domain.OrderLevel
		wantAsks []domain.OrderLevel
	}{
		{"bid larger", "3", "1", []domain.OrderLevel{lv("100", "2")}, []domain.OrderLevel{}},
		{"ask larger", "1", "2.5", []domain.OrderLevel{}, []domain.OrderLevel{lv("100", "1.5")}},
		{"equal", "1", "1.0", []domain.OrderLevel{}, []domain.OrderLevel{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := BuildSnapshot([]domain.Order{
				{Side: domain.OrderSideBuy, Price: "100", Size: tt.bidSize},
				{Side: domain.OrderSideSell, Price: "100.0", Size: tt.askSize},
			})
			if !reflect.DeepEqual(snap.Bids, tt.wantBids) {
				t.Errorf("bids = %v, want %v", snap.Bids, tt.wantBids)
			}
			if !reflect.DeepEqual(snap.Asks, tt.wantAsks) {
				t.Errorf("asks = %v, want %v", snap.Asks, tt.wantAsks)
			}
		})
	}
}
