package checkpoint

import (
	"context"
	"errors"
	"os"

	"github.com/geosample/geosample/pkg/resilience"
)

// RetryBackend retries transient failures of a remote backend and stops
// calling it while its circuit is open. Missing keys are answers, not
// failures, and are never retried.
type RetryBackend struct {
	backend Backend
	policy  resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
}

// NewRetryBackend wraps backend. A nil breaker disables circuit breaking.
func NewRetryBackend(backend Backend, policy resilience.RetryPolicy, breaker *resilience.CircuitBreaker) *RetryBackend {
	return &RetryBackend{backend: backend, policy: policy, breaker: breaker}
}

func (b *RetryBackend) do(ctx context.Context, op func(ctx context.Context) error) error {
	return resilience.Retry(ctx, b.policy, b.breaker, func(ctx context.Context) error {
		err := op(ctx)
		if errors.Is(err, os.ErrNotExist) || ctx.Err() != nil {
			return resilience.Permanent(err)
		}
		return err
	})
}

// Put stores data under key.
func (b *RetryBackend) Put(ctx context.Context, key string, data []byte) error {
	return b.do(ctx, func(ctx context.Context) error {
		return b.backend.Put(ctx, key, data)
	})
}

// Get returns the data under key.
func (b *RetryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.do(ctx, func(ctx context.Context) error {
		var err error
		data, err = b.backend.Get(ctx, key)
		return err
	})
	return data, err
}

// Has reports whether key exists.
func (b *RetryBackend) Has(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := b.do(ctx, func(ctx context.Context) error {
		var err error
		ok, err = b.backend.Has(ctx, key)
		return err
	})
	return ok, err
}

// Remove deletes key.
func (b *RetryBackend) Remove(ctx context.Context, key string) error {
	return b.do(ctx, func(ctx context.Context) error {
		return b.backend.Remove(ctx, key)
	})
}

// Name returns the wrapped backend's name.
func (b *RetryBackend) Name() string {
	return b.backend.Name()
}
