package syncer

import (
	"context"
	"time"
)

const maxRetryDelay = 30 * time.Second

// retryPolicy is exponential backoff with a bounded number of retries.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	// onRetry runs before each wait with the failed attempt number.
	onRetry func(attempt int, delay time.Duration, err error)
}

// do runs fn until it succeeds, the retries are exhausted or ctx ends. The
// error of the last attempt is returned.
func (p retryPolicy) do(ctx context.Context, fn func(context.Context) error) error {
	maxRetries := p.maxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := p.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt > maxRetries {
			return err
		}
		if p.onRetry != nil {
			p.onRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}
