// Package address validates chain-specific token identifiers.
package address

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"market-state-engine/internal/domain"
)

// solanaPubkeyLen is the decoded length of a Solana public key.
const solanaPubkeyLen = 32

// Validate checks that addr is well-formed for chain.
// Returns an error wrapping domain.ErrInvalidAddress otherwise.
func Validate(chain domain.Chain, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("%w: empty", domain.ErrInvalidAddress)
	}

	switch chain.Normalize() {
	case domain.ChainEVM:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %q is not a 20-byte hex address", domain.ErrInvalidAddress, addr)
		}
		if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
			return fmt.Errorf("%w: %q missing 0x prefix", domain.ErrInvalidAddress, addr)
		}
		return nil
	case domain.ChainSolana:
		decoded, err := base58.Decode(addr)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", domain.ErrInvalidAddress, addr, err)
		}
		if len(decoded) != solanaPubkeyLen {
			return fmt.Errorf("%w: %q decodes to %d bytes", domain.ErrInvalidAddress, addr, len(decoded))
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chain)
	}
}

// IsValid reports whether addr is well-formed for chain.
func IsValid(chain domain.Chain, addr string) bool {
	return Validate(chain, addr) == nil
}

// ValidateToken validates a token's address against its own chain.
func ValidateToken(t domain.Token) error {
	if t.Decimals < 0 {
		return fmt.Errorf("%w: negative decimals for %s", domain.ErrInvalidAddress, t.Symbol)
	}
	return Validate(t.Chain, t.Address)
}
