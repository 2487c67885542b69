package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geosample/geosample/pkg/resilience"
)

// flakyBackend fails the first n calls of every operation.
type flakyBackend struct {
	Backend
	n     int
	calls int
}

func (b *flakyBackend) fail() error {
	b.calls++
	if b.calls <= b.n {
		return errors.New("connection refused")
	}
	return nil
}

func (b *flakyBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := b.fail(); err != nil {
		return err
	}
	return b.Backend.Put(ctx, key, data)
}

func (b *flakyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := b.fail(); err != nil {
		return nil, err
	}
	return b.Backend.Get(ctx, key)
}

var testPolicy = resilience.RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

func TestRetryBackendSavesThroughTransientFailures(t *testing.T) {
	local, err := NewLocalBackend(filepath.Join(t.TempDir(), "ckpt"))
	require.NoError(t, err)
	codec, err := NewCodec(CompressionNone)
	require.NoError(t, err)
	flaky := &flakyBackend{Backend: local, n: 2}
	store := NewStore(NewRetryBackend(flaky, testPolicy, nil), codec)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "a.tif", sampleResult("a.tif")))
	flaky.calls, flaky.n = 0, 1
	got, err := store.Load(ctx, "a.tif")
	require.NoError(t, err)
	assert.Equal(t, "a.tif", got.PartitionID)
	assert.Equal(t, "local", store.Name())
}

func TestRetryBackendDoesNotRetryMissingKeys(t *testing.T) {
	local, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	flaky := &flakyBackend{Backend: local}
	b := NewRetryBackend(flaky, testPolicy, resilience.NewCircuitBreaker().WithMaxFailures(1))

	_, err = b.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 1, flaky.calls)
}

func TestRetryBackendOpensCircuit(t *testing.T) {
	local, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	flaky := &flakyBackend{Backend: local, n: 1000}
	b := NewRetryBackend(flaky, testPolicy, resilience.NewCircuitBreaker().WithMaxFailures(1).WithCooldown(time.Hour))

	assert.Error(t, b.Put(context.Background(), "k", []byte("v")))
	err = b.Put(context.Background(), "k", []byte("v"))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}
