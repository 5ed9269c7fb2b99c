package domain

// OrderSide is the side of a resting order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// String returns the string representation of OrderSide.
func (s OrderSide) String() string {
	return string(s)
}

// IsValid checks if the side is a valid value.
func (s OrderSide) IsValid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Order is an open resting order as returned by the order store.
// Price and Size are decimal strings.
type Order struct {
	ID     string
	PairID string
	Side   OrderSide
	Price  string
	Size   string
}
