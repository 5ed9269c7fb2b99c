package domain

// Chain identifies the address format a token lives on.
type Chain string

const (
	ChainEVM    Chain = "evm"
	ChainSolana Chain = "solana"
)

// String returns the string representation of Chain.
func (c Chain) String() string {
	return string(c)
}

// IsValid checks if the chain is a known value. Empty means EVM.
func (c Chain) IsValid() bool {
	return c == "" || c == ChainEVM || c == ChainSolana
}

// Normalize maps the empty chain to EVM.
func (c Chain) Normalize() Chain {
	if c == "" {
		return ChainEVM
	}
	return c
}

// Token is immutable reference data for one asset.
// Corresponds to tokens table in PostgreSQL.
type Token struct {
	Address  string // chain-specific identifier
	Symbol   string // ticker, e.g. "USDC"
	Decimals int    // on-chain decimals, >= 0
	Chain    Chain  // address format, empty = evm
}
