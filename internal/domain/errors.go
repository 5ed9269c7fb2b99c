package domain

import (
	"errors"
	"fmt"
)

// Engine error taxonomy. None of these cross the composer boundary; each is
// folded into a neutral field value and logged.
var (
	// ErrInvalidAddress is returned for a malformed token identifier.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrUnsupportedPair is returned when a pair id is unknown to the registry.
	ErrUnsupportedPair = errors.New("unsupported pair")

	// ErrRPCUnavailable is returned when every configured endpoint failed a read.
	ErrRPCUnavailable = errors.New("rpc unavailable")

	// ErrNoLiquidity is returned when every fee tier quoted zero output.
	ErrNoLiquidity = errors.New("no liquidity")

	// ErrUnsupportedChain is returned when a token's chain has no quoter.
	ErrUnsupportedChain = errors.New("unsupported chain")
)

// Branch names one parallel branch of market state composition.
type Branch string

const (
	BranchPrice Branch = "price"
	BranchBook  Branch = "book"
	BranchStats Branch = "stats"
)

// BranchError reports partial data degradation: one branch failed or timed
// out and was replaced by its neutral default.
type BranchError struct {
	Branch Branch
	Err    error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("%s branch: %v", e.Branch, e.Err)
}

func (e *BranchError) Unwrap() error {
	return e.Err
}
