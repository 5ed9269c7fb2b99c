package memory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"market-state-engine/internal/domain"
)

// SeedFile is the YAML layout of a pairs file.
type SeedFile struct {
	Pairs  []SeedPair  `yaml:"pairs"`
	Orders []SeedOrder `yaml:"orders"`
}

// SeedToken is a token entry in a pairs file.
type SeedToken struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
	Chain    string `yaml:"chain"`
}

// SeedPair is a pair entry in a pairs file. Active defaults to true.
type SeedPair struct {
	ID        string    `yaml:"id"`
	Symbol    string    `yaml:"symbol"`
	Base      SeedToken `yaml:"base"`
	Quote     SeedToken `yaml:"quote"`
	Active    *bool     `yaml:"active"`
	Mock      bool      `yaml:"mock"`
	MockPrice float64   `yaml:"mock_price"`
}

// SeedOrder is a resting order entry in a pairs file.
type SeedOrder struct {
	ID     string `yaml:"id"`
	PairID string `yaml:"pair_id"`
	Side   string `yaml:"side"`
	Price  string `yaml:"price"`
	Size   string `yaml:"size"`
}

// LoadSeedFile reads and parses a pairs file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeed(data)
}

// ParseSeed parses pairs file content.
func ParseSeed(data []byte) (*SeedFile, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pairs file: %w", err)
	}
	return &f, nil
}

func (t SeedToken) toDomain() domain.Token {
	return domain.Token{
		Address:  t.Address,
		Symbol:   t.Symbol,
		Decimals: t.Decimals,
		Chain:    domain.Chain(t.Chain).Normalize(),
	}
}

// TradingPair converts the entry to a domain pair.
func (p SeedPair) TradingPair() *domain.TradingPair {
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	id := p.ID
	if id == "" {
		id = p.Symbol
	}
	return &domain.TradingPair{
		ID:        id,
		Symbol:    p.Symbol,
		Base:      p.Base.toDomain(),
		Quote:     p.Quote.toDomain(),
		Active:    active,
		Mock:      p.Mock,
		MockPrice: p.MockPrice,
	}
}

// Order converts the entry to a domain order.
func (o SeedOrder) Order() domain.Order {
	return domain.Order{
		ID:     o.ID,
		PairID: o.PairID,
		Side:   domain.OrderSide(o.Side),
		Price:  o.Price,
		Size:   o.Size,
	}
}

// Seed loads every pair into the registry and every order into the order
// store. The first invalid entry aborts seeding.
func (f *SeedFile) Seed(ctx context.Context, pairs *PairRegistry, orders *OrderStore) error {
	for _, sp := range f.Pairs {
		if err := pairs.InsertPair(ctx, sp.TradingPair()); err != nil {
			return fmt.Errorf("seed pair %s: %w", sp.Symbol, err)
		}
	}
	if orders == nil {
		return nil
	}
	for _, so := range f.Orders {
		if err := orders.InsertOrder(ctx, so.Order()); err != nil {
			return fmt.Errorf("seed order %s: %w", so.ID, err)
		}
	}
	return nil
}
