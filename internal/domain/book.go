package domain

// BookSide selects one side of an order book.
type BookSide string

const (
	BookSideBids BookSide = "bids"
	BookSideAsks BookSide = "asks"
)

// OrderLevel is one aggregated price level. Price and Size stay decimal
// strings so that summing and sorting never go through float64.
type OrderLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderBookSnapshot holds both book sides.
// Bids are strictly decreasing by price, asks strictly increasing, and a
// price appears at most once across both sides.
type OrderBookSnapshot struct {
	Bids []OrderLevel `json:"bids"`
	Asks []OrderLevel `json:"asks"`
}

// IsEmpty reports whether both sides are empty.
func (s OrderBookSnapshot) IsEmpty() bool {
	return len(s.Bids) == 0 && len(s.Asks) == 0
}

// Clone returns a deep copy that shares no backing arrays with s.
func (s OrderBookSnapshot) Clone() OrderBookSnapshot {
	return OrderBookSnapshot{
		Bids: cloneLevels(s.Bids),
		Asks: cloneLevels(s.Asks),
	}
}

// EmptySnapshot returns a snapshot with non-nil empty sides.
func EmptySnapshot() OrderBookSnapshot {
	return OrderBookSnapshot{Bids: []OrderLevel{}, Asks: []OrderLevel{}}
}

func cloneLevels(levels []OrderLevel) []OrderLevel {
	out := make([]OrderLevel, len(levels))
	copy(out, levels)
	return out
}
