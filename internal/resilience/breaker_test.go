package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := newBreaker(BreakerKey{Backend: "http", Source: "orders-api"}, 2, 50*time.Millisecond)
	assert.Equal(t, StateClosed, b.State())

	for i := 0; i < 2; i++ {
		err := b.Do(context.Background(), func(ctx context.Context) error {
			return errors.New("boom")
		})
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, b.State())

	err := b.Do(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.Error(t, err)
	f := AsFailure(err)
	assert.Equal(t, KindPermanent, f.Kind)
	assert.False(t, f.Retriable())
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b := newBreaker(BreakerKey{Backend: "http", Source: "orders-api"}, 1, 10*time.Millisecond)

	err := b.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	err = b.Do(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerRegistry_KeyedByBackendAndSource(t *testing.T) {
	r := NewBreakerRegistry(1, 10*time.Millisecond)

	a := r.Get(BreakerKey{Backend: "http", Source: "orders-api"})
	b := r.Get(BreakerKey{Backend: "http", Source: "customers-api"})
	aAgain := r.Get(BreakerKey{Backend: "http", Source: "orders-api"})

	assert.Same(t, a, aAgain)
	assert.NotSame(t, a, b)
}
