package domain

// TradingPair is owned by the pair registry and read-only to the engine.
// Corresponds to trading_pairs table in PostgreSQL.
type TradingPair struct {
	ID     string // registry identifier
	Symbol string // e.g. "BTC-USDC"
	Base   Token
	Quote  Token
	Active bool

	// Mock marks a placeholder pair served from MockPrice instead of the AMM.
	Mock      bool
	MockPrice float64
}
