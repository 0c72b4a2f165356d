package resilience

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardpoint/internal/types"
)

func failingOp() (any, error) {
	return nil, errors.New("dependency down")
}

func trip(rc *Context, dep Dependency, threshold int) {
	for i := 0; i < threshold; i++ {
		_, _ = rc.Execute(dep, failingOp)
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	rc := NewContext(BreakerSettings{
		FailureThreshold: 5,
		RecoveryTimeout:  time.Minute,
	}, slog.New(slog.DiscardHandler))

	for i := 0; i < 4; i++ {
		_, err := rc.Execute(DepScheduler, failingOp)
		require.Error(t, err)
		assert.False(t, IsOpen(err))
	}
	assert.Equal(t, gobreaker.StateClosed, rc.State(DepScheduler))

	_, err := rc.Execute(DepScheduler, failingOp)
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, rc.State(DepScheduler))

	// Subsequent calls fail fast without invoking the operation.
	invoked := false
	_, err = rc.Execute(DepScheduler, func() (any, error) {
		invoked = true
		return nil, nil
	})
	require.Error(t, err)
	assert.False(t, invoked)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeCircuitOpen, appErr.Code)
}

func TestBreakersAreIndependentPerDependency(t *testing.T) {
	rc := NewContext(BreakerSettings{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	}, slog.New(slog.DiscardHandler))

	trip(rc, DepWorkflow, 2)
	assert.Equal(t, gobreaker.StateOpen, rc.State(DepWorkflow))
	assert.Equal(t, gobreaker.StateClosed, rc.State(DepNotification))

	result, err := rc.Execute(DepNotification, func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestBreakerHalfOpenProbeResets(t *testing.T) {
	rc := NewContext(BreakerSettings{
		FailureThreshold: 2,
		RecoveryTimeout:  20 * time.Millisecond,
	}, slog.New(slog.DiscardHandler))

	trip(rc, DepFunction, 2)
	assert.Equal(t, gobreaker.StateOpen, rc.State(DepFunction))

	time.Sleep(40 * time.Millisecond)

	// One probe is admitted; its success closes the breaker.
	result, err := rc.Execute(DepFunction, func() (any, error) { return "recovered", nil })
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, gobreaker.StateClosed, rc.State(DepFunction))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	rc := NewContext(BreakerSettings{
		FailureThreshold: 2,
		RecoveryTimeout:  20 * time.Millisecond,
	}, slog.New(slog.DiscardHandler))

	trip(rc, DepIdentity, 2)
	time.Sleep(40 * time.Millisecond)

	_, err := rc.Execute(DepIdentity, failingOp)
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, rc.State(DepIdentity))
}

func TestExecuteWithFallback(t *testing.T) {
	rc := NewContext(BreakerSettings{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	}, slog.New(slog.DiscardHandler))

	trip(rc, DepEventBus, 1)

	result, err := rc.ExecuteWithFallback(DepEventBus,
		failingOp,
		func() (any, error) { return "cached", nil })
	require.NoError(t, err)
	assert.Equal(t, "cached", result)
}

func TestExecuteUnknownDependency(t *testing.T) {
	rc := NewContext(DefaultBreakerSettings(), slog.New(slog.DiscardHandler))

	_, err := rc.Execute(Dependency("unknown"), failingOp)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalUnexpected, appErr.Code)
}

func TestIsOpen(t *testing.T) {
	assert.True(t, IsOpen(gobreaker.ErrOpenState))
	assert.True(t, IsOpen(gobreaker.ErrTooManyRequests))
	assert.True(t, IsOpen(types.NewAppError(types.ErrCodeCircuitOpen, "open", nil)))
	assert.False(t, IsOpen(errors.New("plain")))
	assert.False(t, IsOpen(nil))
}
