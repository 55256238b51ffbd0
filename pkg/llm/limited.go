package llm

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Limited wraps a Client with the process-wide invocation cap and the
// per-call timeout. The adapter is wrapped exactly once at startup and
// the wrapped client is shared by every caller, so the cap holds across
// the step functions and the prompt engine alike.
type Limited struct {
	inner   Client
	sem     *semaphore.Weighted
	timeout time.Duration
}

// Limit bounds inner to workers concurrent invocations, each under the
// given timeout.
func Limit(inner Client, workers int, timeout time.Duration) *Limited {
	return &Limited{
		inner:   inner,
		sem:     semaphore.NewWeighted(int64(workers)),
		timeout: timeout,
	}
}

// Invoke acquires a slot, applies the per-call timeout, and delegates.
// The wait for a slot respects ctx cancellation.
func (l *Limited) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.inner.Invoke(callCtx, req)
}
