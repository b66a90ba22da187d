// Package retry provides the bounded-retry combinator shared by call sites
// that absorb transient failures. Each call site owns its own Policy; there
// is no global default.
package retry

import (
	"context"
	"errors"
	"time"
)

type Policy struct {
	Attempts  int           // total attempts, e.g. 3
	BaseDelay time.Duration // delay before attempt 2; doubles each retry
}

var errNoAttempts = errors.New("retry: zero attempts")

// Do runs fn up to p.Attempts times, sleeping BaseDelay, 2*BaseDelay, ...
// between attempts. It returns nil on the first success and the last error
// otherwise. The sleep honors ctx cancellation.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		return errNoAttempts
	}

	delay := p.BaseDelay
	var last error
	for i := 0; i < p.Attempts; i++ {
		if i > 0 && delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			delay *= 2
		}

		if err := fn(ctx); err != nil {
			last = err
			continue
		}
		return nil
	}
	return last
}
