// Package chain provides read-only blockchain access: a JSON-RPC client for
// eth_call and a prioritized endpoint pool with per-endpoint fail-fast.
package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// Caller executes a single read-only contract call.
type Caller interface {
	// Call executes msg against the latest block and returns the raw return data.
	Call(ctx context.Context, msg CallMsg) ([]byte, error)
}

// CallMsg is a read-only contract invocation.
type CallMsg struct {
	To   common.Address
	Data []byte
}

// IsRevert reports whether err carries a JSON-RPC error answered by a node,
// such as an execution revert, as opposed to a transport failure.
func IsRevert(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}
