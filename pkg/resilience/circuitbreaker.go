package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when a CircuitBreaker refuses to execute a
// call because it is open (or the fallback itself declines to handle it).
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// Settings configures a CircuitBreaker. It mirrors gobreaker.Settings but
// keeps callers decoupled from the underlying library's types.
type Settings struct {
	Name             string
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// CircuitBreaker wraps gobreaker with fallback handling and Prometheus
// metrics. It guards the calls to the external payment Gateway
// (internal/payments) and the Twilio SMS sender (internal/notifier).
type CircuitBreaker struct {
	name     string
	breaker  *gobreaker.CircuitBreaker
	fallback FallbackFunc
}

// NewCircuitBreaker builds a CircuitBreaker. fallback may be nil, in which
// case an open breaker simply returns ErrCircuitOpen.
func NewCircuitBreaker(settings Settings, fallback FallbackFunc) *CircuitBreaker {
	name := nextBreakerName(settings.Name)
	if fallback == nil {
		fallback = NoopFallback
	}

	failureThreshold := settings.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	successThreshold := settings.SuccessThreshold
	if successThreshold == 0 {
		successThreshold = 1
	}

	gb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: settings.Interval,
		Timeout:  settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			recordBreakerStateChange(name, from, to)
		},
	})
	_ = successThreshold // gobreaker trips purely on consecutive failures; kept for API symmetry with Settings

	recordBreakerState(name, gb.State())

	return &CircuitBreaker{name: name, breaker: gb, fallback: fallback}
}

// Execute runs fn through the breaker. If the breaker is open, it invokes
// the configured fallback instead of calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	recordBreakerRequest(cb.name)

	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		recordBreakerFallback(cb.name)
		return cb.fallback(ctx, ErrCircuitOpen)
	}

	recordBreakerFailure(cb.name)
	return nil, err
}

// State exposes the breaker's current gobreaker state for health reporting.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}
