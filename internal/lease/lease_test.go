package lease

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_FreshDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "partition.staging-run1")
	l, err := Acquire(context.Background(), dir, "run1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, dir, l.Path())
	assert.Equal(t, "run1", l.RunID())
	require.NoError(t, l.Release())
}

func TestAcquire_ConcurrentHolderIsRejected(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "partition.staging-run1")
	first, err := Acquire(context.Background(), dir, "run1", time.Hour)
	require.NoError(t, err)
	defer first.Release()

	_, err = Acquire(context.Background(), dir, "run2", time.Hour)
	require.Error(t, err)
	var held *ErrHeld
	require.ErrorAs(t, err, &held)
}

func TestAcquire_ReleaseThenReacquire(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "partition.staging-run1")
	first, err := Acquire(context.Background(), dir, "run1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := Acquire(context.Background(), dir, "run2", time.Hour)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}
