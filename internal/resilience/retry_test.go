package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/medallion/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_DelayFor(t *testing.T) {
	tests := []struct {
		name       string
		k          int
		retryAfter *int64
		wantZero   bool
	}{
		{name: "attempt one has no delay", k: 1, wantZero: true},
		{name: "attempt two uses base delay", k: 2},
		{name: "attempt five caps at max delay", k: 5},
		{name: "retry-after hint overrides computed delay", k: 3, retryAfter: int64Ptr(1500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewRetryPolicy(noJitterSpec())
			d := p.DelayFor(tt.k, tt.retryAfter)
			if tt.wantZero {
				assert.Zero(t, d)
				return
			}
			if tt.retryAfter != nil {
				assert.Equal(t, time.Duration(*tt.retryAfter)*time.Millisecond, d)
				return
			}
			assert.LessOrEqual(t, d, p.MaxDelay)
			assert.Greater(t, d, time.Duration(0))
		})
	}
}

func TestRetryPolicy_Do_StopsOnNonRetriable(t *testing.T) {
	p := NewRetryPolicy(noJitterSpec())
	attempts := 0

	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return NewFailure(KindPermanent, errors.New("boom"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicy_Do_RetriesRetriableUntilSuccess(t *testing.T) {
	spec := noJitterSpec()
	spec.MaxAttempts = 5
	p := NewRetryPolicy(spec)
	attempts := 0

	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		if attempts < 3 {
			return NewFailure(KindNetwork, errors.New("transient"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_Do_ExhaustsAttempts(t *testing.T) {
	spec := noJitterSpec()
	spec.MaxAttempts = 3
	p := NewRetryPolicy(spec)
	attempts := 0

	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return NewFailure(KindThrottled, errors.New("still throttled"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_Do_RespectsCancellation(t *testing.T) {
	spec := noJitterSpec()
	spec.MaxAttempts = 5
	spec.BaseDelay = time.Hour
	p := NewRetryPolicy(spec)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return NewFailure(KindNetwork, errors.New("transient"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func noJitterSpec() config.ResilienceSpec {
	return config.ResilienceSpec{
		MaxAttempts:    3,
		BaseDelay:      10 * time.Millisecond,
		MaxDelay:       50 * time.Millisecond,
		Multiplier:     2,
		JitterFraction: 0,
	}
}

func int64Ptr(v int64) *int64 { return &v }
