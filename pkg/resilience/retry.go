package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig tunes the bounded-exponential-backoff retry loop.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	EnableJitter      bool

	// RetryableErrors, when non-empty, restricts retries to errors matching
	// one of these via errors.Is. RetryableChecker, when set, takes priority
	// over RetryableErrors.
	RetryableErrors  []error
	RetryableChecker func(error) bool
}

// DefaultRetryConfig is a moderate general-purpose policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
	}
}

// AggressiveRetryConfig retries more often with shorter backoffs, for
// latency-sensitive idempotent operations (e.g. dispatch enqueue).
func AggressiveRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        16 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
	}
}

// ConservativeRetryConfig retries sparingly, for operations with
// expensive or user-visible side effects.
func ConservativeRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
	}
}

// Retry runs operation until it succeeds, a non-retryable error is
// returned, the context is cancelled, or MaxAttempts is exhausted.
func Retry(ctx context.Context, config RetryConfig, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var result interface{}
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, lastErr = operation(ctx)
		if lastErr == nil {
			return result, nil
		}
		if !shouldRetry(lastErr, config) {
			return nil, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		backoff := calculateBackoff(attempt, config)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}

// RetryWithBreaker composes Retry with a CircuitBreaker: every attempt is
// executed through the breaker, so an open breaker fails fast without
// burning through the retry budget.
func RetryWithBreaker(ctx context.Context, config RetryConfig, breaker *CircuitBreaker, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	return Retry(ctx, config, func(ctx context.Context) (interface{}, error) {
		return breaker.Execute(ctx, operation)
	})
}

func shouldRetry(err error, config RetryConfig) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}

	if config.RetryableChecker != nil {
		return config.RetryableChecker(err)
	}

	if len(config.RetryableErrors) > 0 {
		for _, candidate := range config.RetryableErrors {
			if errors.Is(err, candidate) {
				return true
			}
		}
		return false
	}

	return true
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	multiplier := config.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	scaled := float64(config.InitialBackoff) * math.Pow(multiplier, float64(attempt-1))
	backoff := time.Duration(scaled)
	if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
		backoff = config.MaxBackoff
	}

	if config.EnableJitter {
		backoff = addJitter(backoff)
	}

	return backoff
}

// addJitter returns a uniformly random duration in [0, d], spreading out
// retries from many concurrent callers (full jitter).
func addJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// IsRetryableHTTPStatus reports whether an HTTP response status code
// represents a transient condition worth retrying.
func IsRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// RetryableOperation is a generic convenience wrapper around Retry for
// callers with a concrete result type, avoiding interface{} boxing at
// every call site.
func RetryableOperation[T any](ctx context.Context, operation func(context.Context) (T, error), name string) (T, error) {
	var zero T
	result, err := Retry(ctx, DefaultRetryConfig(), func(ctx context.Context) (interface{}, error) {
		return operation(ctx)
	})
	if err != nil {
		return zero, err
	}
	return result.(T), nil
}
