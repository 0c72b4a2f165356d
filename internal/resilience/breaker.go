// Package resilience provides the circuit-breaker and bounded-retry layer
// wrapped around every outbound call the platform makes. One breaker exists
// per logical dependency; all of them live in a Context constructed once at
// process start and injected into the components that need it, so tests can
// use a fresh Context instead of sharing global state.
package resilience

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"guardpoint/internal/types"
)

// Dependency identifies one external collaborator guarded by its own breaker.
type Dependency string

const (
	DepScheduler    Dependency = "scheduler"
	DepWorkflow     Dependency = "workflow"
	DepFunction     Dependency = "function"
	DepNotification Dependency = "notification"
	DepIdentity     Dependency = "identity"
	DepEventBus     Dependency = "eventbus"
)

// allDependencies is the fixed set of breakers a Context manages.
var allDependencies = []Dependency{
	DepScheduler, DepWorkflow, DepFunction, DepNotification, DepIdentity, DepEventBus,
}

// BreakerSettings tunes the per-dependency circuit breakers.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failures after which the
	// breaker transitions CLOSED -> OPEN.
	FailureThreshold uint32
	// RecoveryTimeout is how long an OPEN breaker waits before admitting a
	// single HALF_OPEN probe.
	RecoveryTimeout time.Duration
	// Interval is the cyclic period in which the breaker clears its counts
	// while CLOSED.
	Interval time.Duration
}

// DefaultBreakerSettings returns the production defaults.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		Interval:         60 * time.Second,
	}
}

// Context holds one circuit breaker per external dependency. It is
// process-scoped by construction: under horizontal scale-out each instance
// has its own breakers, so fleet-wide failure suppression is probabilistic.
type Context struct {
	breakers map[Dependency]*gobreaker.CircuitBreaker[any]
	logger   *slog.Logger
}

// NewContext builds a Context with one breaker per known dependency.
func NewContext(settings BreakerSettings, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}

	breakers := make(map[Dependency]*gobreaker.CircuitBreaker[any], len(allDependencies))
	for _, dep := range allDependencies {
		dep := dep
		breakers[dep] = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        string(dep),
			MaxRequests: 1,
			Interval:    settings.Interval,
			Timeout:     settings.RecoveryTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= settings.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					"dependency", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
	}

	return &Context{breakers: breakers, logger: logger}
}

// Execute runs op under the breaker for dep. When the breaker is OPEN (or the
// HALF_OPEN probe slot is taken), the call fails fast with a circuit_open
// AppError without invoking op.
func (rc *Context) Execute(dep Dependency, op func() (any, error)) (any, error) {
	return rc.ExecuteWithFallback(dep, op, nil)
}

// ExecuteWithFallback runs op under the breaker for dep; when the breaker
// rejects the call and a fallback is provided, the fallback result is
// returned instead of the circuit_open error.
func (rc *Context) ExecuteWithFallback(dep Dependency, op, fallback func() (any, error)) (any, error) {
	cb, ok := rc.breakers[dep]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"unknown resilience dependency "+string(dep), nil)
	}

	result, err := cb.Execute(op)
	if err == nil {
		return result, nil
	}

	if IsOpen(err) {
		if fallback != nil {
			return fallback()
		}
		return nil, types.NewAppError(types.ErrCodeCircuitOpen,
			"circuit breaker open for dependency "+string(dep), err)
	}

	return result, err
}

// State returns the current breaker state for dep.
func (rc *Context) State(dep Dependency) gobreaker.State {
	if cb, ok := rc.breakers[dep]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// IsOpen reports whether err indicates a breaker rejection (OPEN state or
// HALF_OPEN probe already in flight).
func IsOpen(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeCircuitOpen
}
