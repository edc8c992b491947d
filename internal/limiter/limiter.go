// Package limiter provides the shared backpressure primitives for every
// external call the worker makes: a process-wide rate limiter keyed by
// logical operation name, and a retry executor with exponential backoff.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter gates calls to external services. Each logical operation
// key ("visual_analysis", "scene_segmentation", ...) gets its own token
// bucket so a burst of one signal type cannot starve the others. The
// limiter is shared across all jobs and workers; it is the system-wide
// backpressure valve, not per-job state.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewKeyedLimiter creates a limiter allowing rps requests per second with
// the given burst per key.
func NewKeyedLimiter(rps float64, burst int) *KeyedLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Acquire blocks the caller until capacity is available for key, or the
// context is cancelled.
func (kl *KeyedLimiter) Acquire(ctx context.Context, key string) error {
	return kl.limiterFor(key).Wait(ctx)
}

func (kl *KeyedLimiter) limiterFor(key string) *rate.Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	lim, ok := kl.limiters[key]
	if !ok {
		lim = rate.NewLimiter(kl.rps, kl.burst)
		kl.limiters[key] = lim
	}
	return lim
}

// RetryPolicy controls Do. The delay doubles after every failed attempt,
// starting at InitialDelay. IsRetryable decides whether a given error is
// worth another attempt; a nil predicate retries everything.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	IsRetryable  func(error) bool
}

// Do invokes fn, retrying per the policy. Non-retryable errors propagate
// on first failure. The backoff sleep respects context cancellation.
func Do(ctx context.Context, policy RetryPolicy, fn func() error) error {
	delay := policy.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if policy.IsRetryable != nil && !policy.IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("request failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}
