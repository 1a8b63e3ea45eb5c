package reliability

import (
	"context"
	"time"
)

// Policy bounds a sequence of attempts separated by a fixed pause.
type Policy struct {
	Attempts int
	Delay    time.Duration
	// OnRetry is called after a retryable failure, before the pause.
	OnRetry func(attempt int, err error)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. Attempts are numbered from 1. It returns the
// number of attempts made and the last error.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if retryable == nil || !retryable(err) || attempt == attempts {
			return attempt, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if !sleep(ctx, p.Delay) {
			return attempt, err
		}
	}
	return attempts, err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
