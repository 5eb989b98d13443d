package events

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Common retry errors.
var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrNonRetryable       = errors.New("error is not retryable")
	ErrCircuitOpen        = errors.New("circuit breaker is open")
)

// RetryPolicy defines retry behavior for collaborator calls.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retry attempts after the first call.
	MaxRetries int `json:"max_retries"`

	// InitialDelayMS is the initial delay in milliseconds.
	InitialDelayMS int `json:"initial_delay_ms"`

	// MaxDelayMS is the maximum delay in milliseconds.
	MaxDelayMS int `json:"max_delay_ms"`

	// BackoffMultiplier is the exponential backoff multiplier.
	BackoffMultiplier float64 `json:"backoff_multiplier"`

	// Jitter adds spread between replicas retrying together.
	Jitter float64 `json:"jitter"` // 0.0 to 1.0
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		InitialDelayMS:    200,
		MaxDelayMS:        2000,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// CalculateDelay calculates the delay for a retry attempt.
func (p RetryPolicy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(p.InitialDelayMS) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if delay > float64(p.MaxDelayMS) {
		delay = float64(p.MaxDelayMS)
	}

	if p.Jitter > 0 {
		jitterAmount := delay * p.Jitter
		// Deterministic spread based on attempt number
		jitterOffset := float64(attempt%7) / 7.0 * jitterAmount
		delay = delay - jitterAmount/2 + jitterOffset
	}

	return time.Duration(delay) * time.Millisecond
}

// Do runs fn until it succeeds, returns an error wrapping ErrNonRetryable,
// the context ends, or MaxRetries is exhausted.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.CalculateDelay(attempt)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrNonRetryable) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
}

// CircuitBreaker implements circuit breaker pattern for collaborator calls.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	failures      int
	lastFailure   time.Time
	state         CircuitState
	halfOpenCount int
}

// CircuitState represents circuit breaker state.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  1,
		state:        CircuitClosed,
	}
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// AllowRequest returns true if the request should be allowed.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenCount = 1
			return true
		}
		return false
	case CircuitHalfOpen:
		cb.halfOpenCount++
		return cb.halfOpenCount <= cb.halfOpenMax
	}
	return false
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = CircuitOpen
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// String returns state as string.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
