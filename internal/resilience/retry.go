package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"guardpoint/internal/types"
)

// RetryPolicy configures the bounded exponential-backoff retry executor.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter randomizes each delay over [BaseDelay, computed] to avoid
	// synchronized retry storms across concurrent invocations.
	Jitter bool
}

// DefaultRetryPolicy returns sensible defaults for external API calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// ShouldRetryFn decides whether a failed attempt is worth repeating.
type ShouldRetryFn func(error) bool

// DefaultShouldRetry retries only errors explicitly marked retryable
// (upstream and timeout AppError codes). Breaker rejections are excluded:
// once the circuit is open, further attempts in the same call are pointless.
func DefaultShouldRetry(err error) bool {
	if IsOpen(err) {
		return false
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable()
	}
	return false
}

// Retryer executes operations with bounded exponential backoff.
type Retryer struct {
	policy      RetryPolicy
	shouldRetry ShouldRetryFn
	sleepFn     func(time.Duration) // for testability; defaults to time.Sleep
}

// RetryerOption is a functional option for configuring a Retryer.
type RetryerOption func(*Retryer)

// WithShouldRetry overrides the retryability predicate.
func WithShouldRetry(fn ShouldRetryFn) RetryerOption {
	return func(r *Retryer) {
		r.shouldRetry = fn
	}
}

// WithSleepFunc overrides the sleep function used between attempts.
// Intended for tests to avoid real delays.
func WithSleepFunc(fn func(time.Duration)) RetryerOption {
	return func(r *Retryer) {
		r.sleepFn = fn
	}
}

// NewRetryer creates a Retryer with the given policy.
func NewRetryer(policy RetryPolicy, opts ...RetryerOption) *Retryer {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 2.0
	}
	r := &Retryer{
		policy:      policy,
		shouldRetry: DefaultShouldRetry,
		sleepFn:     time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs op up to MaxAttempts times. Non-retryable failures and exhausted
// attempts return the last error unchanged. Context cancellation between
// attempts aborts immediately with a timeout AppError.
func (r *Retryer) Do(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return types.NewAppError(types.ErrCodeTimeout,
				"operation cancelled before attempt", err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == r.policy.MaxAttempts || !r.shouldRetry(lastErr) {
			break
		}

		r.sleepFn(r.backoff(attempt))
	}

	return lastErr
}

// backoff computes the delay before the next attempt: exponential growth
// capped at MaxDelay, optionally with full jitter over [BaseDelay, computed].
func (r *Retryer) backoff(attempt int) time.Duration {
	base := float64(r.policy.BaseDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	maxWait := float64(r.policy.MaxDelay)
	if base > maxWait {
		base = maxWait
	}

	if !r.policy.Jitter {
		return time.Duration(base)
	}

	minWait := float64(r.policy.BaseDelay)
	if base <= minWait {
		return r.policy.BaseDelay
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}
