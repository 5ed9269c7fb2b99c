package domain

import "time"

// Source describes how a MarketState was produced.
type Source string

const (
	SourceLive        Source = "live"
	SourceCached      Source = "cached"
	SourceUnavailable Source = "unavailable"
	SourceMock        Source = "mock"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is a valid value.
func (s Source) IsValid() bool {
	switch s {
	case SourceLive, SourceCached, SourceUnavailable, SourceMock:
		return true
	}
	return false
}

// MarketState is the composed, ephemeral view of one pair. Nil pointers are
// absent values, never zero prices.
type MarketState struct {
	PairID             string       `json:"pairId"`
	Symbol             string       `json:"symbol"`
	MarkPrice          *float64     `json:"markPrice"`
	LastPrice          *float64     `json:"lastPrice"`
	PriceChangePercent float64      `json:"priceChangePercent"`
	High24h            *float64     `json:"high24h"`
	Low24h             *float64     `json:"low24h"`
	Volume24h          *float64     `json:"volume24h"`
	Bids               []OrderLevel `json:"bids"`
	Asks               []OrderLevel `json:"asks"`
	Source             Source       `json:"source"`
	IsActive           bool         `json:"isActive"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// Book returns the state's order book as a snapshot copy.
func (m *MarketState) Book() OrderBookSnapshot {
	return OrderBookSnapshot{Bids: m.Bids, Asks: m.Asks}.Clone()
}

// Clone returns a deep copy of the state.
func (m *MarketState) Clone() *MarketState {
	c := *m
	c.MarkPrice = copyFloat(m.MarkPrice)
	c.LastPrice = copyFloat(m.LastPrice)
	c.High24h = copyFloat(m.High24h)
	c.Low24h = copyFloat(m.Low24h)
	c.Volume24h = copyFloat(m.Volume24h)
	book := m.Book()
	c.Bids, c.Asks = book.Bids, book.Asks
	return &c
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}
