// Package stub provides in-memory contract callers for tests.
package stub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"market-state-engine/internal/chain"
)

// ErrNoResponse is returned when no response is registered for a call.
var ErrNoResponse = errors.New("no stub response")

// Response is a canned result for a call.
type Response struct {
	Data  []byte
	Err   error
	Delay time.Duration // simulated latency, honours context cancellation
}

// Caller implements chain.Caller for testing. Responses are matched by the
// exact calldata; Fallback answers everything else.
type Caller struct {
	mu        sync.RWMutex
	responses map[string]Response
	Fallback  *Response

	calls atomic.Int64
}

// NewCaller creates a new stub caller.
func NewCaller() *Caller {
	return &Caller{responses: make(map[string]Response)}
}

// On registers a response for calldata.
func (c *Caller) On(data []byte, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[string(data)] = resp
}

// Calls returns how many calls were made.
func (c *Caller) Calls() int64 {
	return c.calls.Load()
}

// Call returns the registered response for msg.Data.
func (c *Caller) Call(ctx context.Context, msg chain.CallMsg) ([]byte, error) {
	c.calls.Add(1)

	c.mu.RLock()
	resp, ok := c.responses[string(msg.Data)]
	c.mu.RUnlock()

	if !ok {
		if c.Fallback == nil {
			return nil, ErrNoResponse
		}
		resp = *c.Fallback
	}

	if resp.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(resp.Delay):
		}
	}

	return resp.Data, resp.Err
}

var _ chain.Caller = (*Caller)(nil)

// Func adapts a function to chain.Caller.
type Func func(ctx context.Context, msg chain.CallMsg) ([]byte, error)

// Call calls f.
func (f Func) Call(ctx context.Context, msg chain.CallMsg) ([]byte, error) {
	return f(ctx, msg)
}
