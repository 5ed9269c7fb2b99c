package market

import (
	"context"
	"fmt"
	"time"

	"market-state-engine/internal/domain"
)

// runBranch runs fn under its own timeout. A panic, an error or the timeout
// becomes a *domain.BranchError. fn keeps running in the background after a
// timeout if it ignores its context; its result is discarded.
func runBranch[T any](parent context.Context, branch domain.Branch, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return zero, &domain.BranchError{Branch: branch, Err: r.err}
		}
		return r.value, nil
	case <-ctx.Done():
		return zero, &domain.BranchError{Branch: branch, Err: ctx.Err()}
	}
}
