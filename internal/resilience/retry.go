package resilience

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, sleeping delay between attempts. It
// returns nil as soon as fn succeeds, the last error once attempts are
// exhausted, or the context error if ctx is cancelled while waiting.
//
// The session manager uses Retry with two attempts around final session
// persistence.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}
