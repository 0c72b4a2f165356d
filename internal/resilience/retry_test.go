package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardpoint/internal/types"
)

func retryable() error {
	return types.NewAppError(types.ErrCodeUpstreamScheduler, "upstream failed", nil)
}

func testRetryer(policy RetryPolicy, opts ...RetryerOption) *Retryer {
	opts = append([]RetryerOption{WithSleepFunc(func(time.Duration) {})}, opts...)
	return NewRetryer(policy, opts...)
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	r := testRetryer(DefaultRetryPolicy())

	attempts := 0
	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return retryable()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustionReturnsLastErrorUnchanged(t *testing.T) {
	r := testRetryer(DefaultRetryPolicy())

	final := types.NewAppError(types.ErrCodeUpstreamWorkflow, "attempt three", nil)
	attempts := 0
	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts == 3 {
			return final
		}
		return retryable()
	})

	assert.Equal(t, 3, attempts)
	assert.Same(t, final, err)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	r := testRetryer(DefaultRetryPolicy())

	attempts := 0
	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		return types.NewAppError(types.ErrCodeValidationInvalidCron, "bad cron", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryStopsOnGenericError(t *testing.T) {
	r := testRetryer(DefaultRetryPolicy())

	plain := errors.New("plain failure")
	attempts := 0
	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		return plain
	})

	assert.Same(t, plain, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryCustomShouldRetry(t *testing.T) {
	r := testRetryer(DefaultRetryPolicy(), WithShouldRetry(func(error) bool { return true }))

	attempts := 0
	_ = r.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("anything")
	})

	assert.Equal(t, 3, attempts)
}

func TestRetryContextCancellation(t *testing.T) {
	r := testRetryer(DefaultRetryPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := r.Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return retryable()
	})

	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeTimeout, appErr.Code)
	assert.Equal(t, 1, attempts)
}

func TestBackoffGrowthAndCap(t *testing.T) {
	r := NewRetryer(RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    300 * time.Millisecond,
		Multiplier:  2.0,
	})

	assert.Equal(t, 100*time.Millisecond, r.backoff(1))
	assert.Equal(t, 200*time.Millisecond, r.backoff(2))
	assert.Equal(t, 300*time.Millisecond, r.backoff(3))
	assert.Equal(t, 300*time.Millisecond, r.backoff(4))
}

func TestBackoffJitterBounds(t *testing.T) {
	r := NewRetryer(RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	})

	for i := 0; i < 50; i++ {
		d := r.backoff(3)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestDefaultShouldRetry(t *testing.T) {
	assert.True(t, DefaultShouldRetry(types.NewAppError(types.ErrCodeUpstreamScheduler, "x", nil)))
	assert.True(t, DefaultShouldRetry(types.NewAppError(types.ErrCodeTimeout, "x", nil)))
	assert.False(t, DefaultShouldRetry(types.NewAppError(types.ErrCodeValidationInvalidCron, "x", nil)))
	assert.False(t, DefaultShouldRetry(types.NewAppError(types.ErrCodeCircuitOpen, "x", nil)))
	assert.False(t, DefaultShouldRetry(errors.New("plain")))
}
