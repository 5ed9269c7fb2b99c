package storage

import (
	"fmt"

	"github.com/shopspring/decimal"

	"market-state-engine/internal/address"
	"market-state-engine/internal/domain"
)

// ValidatePair checks a pair before it is stored. Mock pairs may omit
// token addresses but need a positive MockPrice.
func ValidatePair(p *domain.TradingPair) error {
	if p == nil || p.ID == "" || p.Symbol == "" {
		return fmt.Errorf("%w: pair id and symbol are required", ErrInvalidInput)
	}
	if p.Base.Symbol == "" || p.Quote.Symbol == "" {
		return fmt.Errorf("%w: pair %s: token symbols are required", ErrInvalidInput, p.ID)
	}

	if p.Mock {
		if p.MockPrice <= 0 {
			return fmt.Errorf("%w: mock pair %s needs a positive mock price", ErrInvalidInput, p.ID)
		}
		return nil
	}

	for _, t := range []domain.Token{p.Base, p.Quote} {
		if err := address.ValidateToken(t); err != nil {
			return fmt.Errorf("%w: pair %s: %v", ErrInvalidInput, p.ID, err)
		}
	}
	return nil
}

// ValidateOrder checks an order before it is stored.
func ValidateOrder(o domain.Order) error {
	if o.ID == "" || o.PairID == "" {
		return fmt.Errorf("%w: order id and pair id are required", ErrInvalidInput)
	}
	if !o.Side.IsValid() {
		return fmt.Errorf("%w: order %s: side %q", ErrInvalidInput, o.ID, o.Side)
	}
	for name, v := range map[string]string{"price": o.Price, "size": o.Size} {
		d, err := decimal.NewFromString(v)
		if err != nil || !d.IsPositive() {
			return fmt.Errorf("%w: order %s: %s %q must be a positive decimal", ErrInvalidInput, o.ID, name, v)
		}
	}
	return nil
}
