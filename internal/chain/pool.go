package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"market-state-engine/internal/domain"
	"market-state-engine/internal/observability"
)

// DefaultCallTimeout bounds a single endpoint attempt.
const DefaultCallTimeout = 3 * time.Second

// errRateLimited is recorded when an endpoint's local token bucket is empty.
var errRateLimited = errors.New("local rate limit exhausted")

// Endpoint configures one RPC endpoint of a Pool.
type Endpoint struct {
	Name      string
	URL       string
	Timeout   time.Duration // per-call timeout, 0 = DefaultCallTimeout
	RateLimit float64       // requests per second, 0 = unlimited
	Burst     int
}

// Member is one prioritized caller inside a Pool.
type Member struct {
	Name    string
	Caller  Caller
	Timeout time.Duration
	Limiter *rate.Limiter // optional
}

// Pool executes a read against an ordered list of endpoints: primary first,
// then fallbacks. Each endpoint is tried at most once per call.
// The member list is immutable after construction, so Pool is safe for
// concurrent use.
type Pool struct {
	members []Member
	logger  *slog.Logger
}

// NewPool creates a pool from prebuilt members, in priority order.
func NewPool(members []Member, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}

	ms := make([]Member, len(members))
	for i, m := range members {
		if m.Timeout <= 0 {
			m.Timeout = DefaultCallTimeout
		}
		if m.Name == "" {
			m.Name = fmt.Sprintf("endpoint-%d", i)
		}
		ms[i] = m
	}

	return &Pool{members: ms, logger: logger}
}

// NewHTTPPool creates a pool of JSON-RPC HTTP clients. Client-level retries
// are disabled: failover to the next endpoint replaces retrying.
func NewHTTPPool(endpoints []Endpoint, logger *slog.Logger) *Pool {
	members := make([]Member, 0, len(endpoints))
	for i, ep := range endpoints {
		timeout := ep.Timeout
		if timeout <= 0 {
			timeout = DefaultCallTimeout
		}

		name := ep.Name
		if name == "" {
			name = fmt.Sprintf("endpoint-%d", i)
		}

		var limiter *rate.Limiter
		if ep.RateLimit > 0 {
			burst := ep.Burst
			if burst <= 0 {
				burst = 1
			}
			limiter = rate.NewLimiter(rate.Limit(ep.RateLimit), burst)
		}

		members = append(members, Member{
			Name:    name,
			Caller:  NewHTTPClient(ep.URL, WithTimeout(timeout)),
			Timeout: timeout,
			Limiter: limiter,
		})
	}
	return NewPool(members, logger)
}

// Len returns the number of endpoints.
func (p *Pool) Len() int {
	return len(p.members)
}

// Call tries each endpoint in priority order and returns the first success.
// When every endpoint fails the returned *PoolError matches
// domain.ErrRPCUnavailable.
func (p *Pool) Call(ctx context.Context, msg CallMsg) ([]byte, error) {
	if len(p.members) == 0 {
		return nil, &PoolError{}
	}

	attempts := make([]EndpointError, 0, len(p.members))
	for _, m := range p.members {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, EndpointError{Endpoint: m.Name, Err: err})
			break
		}

		if m.Limiter != nil && !m.Limiter.Allow() {
			observability.RecordRPCCall(m.Name, "rate_limited", 0)
			attempts = append(attempts, EndpointError{Endpoint: m.Name, Err: errRateLimited})
			continue
		}

		out, err := p.callOne(ctx, m, msg)
		if err == nil {
			return out, nil
		}

		p.logger.Debug("rpc endpoint failed, trying next",
			slog.String("endpoint", m.Name),
			slog.Any("error", err),
		)
		attempts = append(attempts, EndpointError{Endpoint: m.Name, Err: err})
	}

	return nil, &PoolError{Attempts: attempts}
}

func (p *Pool) callOne(ctx context.Context, m Member, msg CallMsg) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	start := time.Now()
	out, err := m.Caller.Call(callCtx, msg)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		observability.RecordRPCCall(m.Name, "ok", elapsed)
	case IsRevert(err):
		observability.RecordRPCCall(m.Name, "revert", elapsed)
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		observability.RecordRPCCall(m.Name, "timeout", elapsed)
		err = fmt.Errorf("timeout after %s: %w", m.Timeout, err)
	default:
		observability.RecordRPCCall(m.Name, "error", elapsed)
	}
	return out, err
}

var _ Caller = (*Pool)(nil)

// EndpointError is the failure of one endpoint within a pool call.
type EndpointError struct {
	Endpoint string
	Err      error
}

// PoolError aggregates the failures of every endpoint tried by a pool call.
type PoolError struct {
	Attempts []EndpointError
}

func (e *PoolError) Error() string {
	if len(e.Attempts) == 0 {
		return "rpc unavailable: no endpoints configured"
	}

	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Endpoint, a.Err)
	}
	return "rpc unavailable: " + strings.Join(parts, "; ")
}

// Unwrap exposes domain.ErrRPCUnavailable and every endpoint error.
func (e *PoolError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	errs = append(errs, domain.ErrRPCUnavailable)
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// AnyReverted reports whether at least one endpoint answered with a node-side
// error, meaning the chain was reachable but the call itself failed.
func (e *PoolError) AnyReverted() bool {
	for _, a := range e.Attempts {
		if IsRevert(a.Err) {
			return true
		}
	}
	return false
}
