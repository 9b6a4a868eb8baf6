package runtime

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// DefaultStartTimeout bounds how long a resource may take to become healthy.
const DefaultStartTimeout = 5 * time.Minute

// PollPolicy controls how often a health check is repeated.
type PollPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPollPolicy returns a sensible default poll policy.
func DefaultPollPolicy() *PollPolicy {
	return &PollPolicy{
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  3 * time.Second,
	}
}

// WithTimeout wraps a context with a per-resource start timeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// PollUntil runs fn until it succeeds or ctx is done. The last error of fn is reported
// when ctx ends first.
func PollUntil(ctx context.Context, policy *PollPolicy, fn func(ctx context.Context) error) error {
	if policy == nil {
		policy = DefaultPollPolicy()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-time.After(calculateBackoff(attempt, policy.BaseDelay, policy.MaxDelay)):
		}
	}
}

// calculateBackoff returns exponential backoff with jitter in [backoff/2, backoff].
func calculateBackoff(attempt int, base, max time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := rand.Float64() * backoff / 2
	return time.Duration(backoff/2 + jitter)
}
