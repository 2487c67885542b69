// Package resilience provides fault-tolerance primitives for calls to remote
// services: bounded exponential retry and a circuit breaker that stops
// hammering a backend that keeps failing.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Rejecting requests
	CircuitHalfOpen                     // Testing if the backend recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker trips after a run of consecutive failures and rejects
// calls until the cooldown has passed. The first call after the cooldown is
// a trial: success closes the circuit, failure opens it again.
type CircuitBreaker struct {
	mu sync.Mutex

	maxFailures    int
	cooldownPeriod time.Duration
	now            func() time.Time

	state    CircuitState
	failures int
	tripTime time.Time

	// Callbacks
	OnTrip  func(failures int)
	OnReset func()
}

// NewCircuitBreaker creates a circuit breaker with sensible defaults.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:    5,
		cooldownPeriod: 30 * time.Second,
		now:            time.Now,
	}
}

// WithMaxFailures sets how many consecutive failures trip the circuit.
func (cb *CircuitBreaker) WithMaxFailures(n int) *CircuitBreaker {
	cb.maxFailures = n
	return cb
}

// WithCooldown sets the cooldown period after tripping.
func (cb *CircuitBreaker) WithCooldown(d time.Duration) *CircuitBreaker {
	cb.cooldownPeriod = d
	return cb
}

// Allow checks if an operation should be allowed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.tripTime) < cb.cooldownPeriod {
			return false
		}
		cb.state = CircuitHalfOpen
		return true
	default:
		return true
	}
}

// Record reports the outcome of an allowed operation.
func (cb *CircuitBreaker) Record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		reset := cb.state != CircuitClosed
		cb.state = CircuitClosed
		cb.failures = 0
		if reset && cb.OnReset != nil {
			cb.OnReset()
		}
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = CircuitOpen
		cb.tripTime = cb.now()
		if cb.OnTrip != nil {
			cb.OnTrip(cb.failures)
		}
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RetryPolicy bounds exponential retry.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns a policy suited to checkpoint I/O.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs op until it succeeds, returns a Permanent error, the policy is
// exhausted or ctx is done. A nil breaker disables circuit breaking.
// Permanent errors count as answers from a healthy backend.
func Retry(ctx context.Context, p RetryPolicy, cb *CircuitBreaker, op func(ctx context.Context) error) error {
	if cb != nil && !cb.Allow() {
		return ErrCircuitOpen
	}
	var permanent bool
	err := backoff.Retry(func() error {
		err := op(ctx)
		var perm *backoff.PermanentError
		permanent = errors.As(err, &perm)
		return err
	}, p.backOff(ctx))

	if cb != nil && ctx.Err() == nil {
		cb.Record(err == nil || permanent)
	}
	return err
}
