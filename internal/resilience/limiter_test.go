package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Allow_ConsumesBurstThenBlocks(t *testing.T) {
	l := NewLimiter(1, 2)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestLimiter_Allow_RefillsOverTime(t *testing.T) {
	fixed := time.Now()
	l := NewLimiter(10, 1)
	l.now = func() time.Time { return fixed }
	l.lastRefill = fixed

	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	fixed = fixed.Add(200 * time.Millisecond)
	l.now = func() time.Time { return fixed }
	assert.True(t, l.Allow())
}

func TestLimiter_ZeroRPS_OnlyBurstThenBlocks(t *testing.T) {
	l := NewLimiter(0, 1)
	assert.True(t, l.Allow())
	for i := 0; i < 4; i++ {
		assert.False(t, l.Allow())
	}
}

func TestLimiter_Wait_ZeroRPSZeroBurst_BlocksUntilCancelled(t *testing.T) {
	l := NewLimiter(0, 0)
	assert.False(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	require.Error(t, err)
}

func TestLimiter_Wait_UnblocksOnRefill(t *testing.T) {
	l := NewLimiter(100, 1)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := l.Wait(ctx)
	require.NoError(t, err)
}

func TestLimiter_Wait_RespectsContextCancellation(t *testing.T) {
	l := NewLimiter(0.001, 1)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	require.Error(t, err)
}
