package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurface_Emit_Synchronous_DispatchesToAllSinks(t *testing.T) {
	var mu sync.Mutex
	var got []Event

	sink := func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	}

	s := NewSurface(0, sink, sink)
	s.Emit(context.Background(), Event{Type: EventRunStarted, RunID: "r1"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, EventRunStarted, got[0].Type)
	assert.Equal(t, "r1", got[0].RunID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestSurface_Emit_SinkFailureIsIsolated(t *testing.T) {
	var calledSecond bool

	failing := func(ctx context.Context, e Event) error { return errors.New("boom") }
	ok := func(ctx context.Context, e Event) error { calledSecond = true; return nil }

	s := NewSurface(0, failing, ok)
	assert.NotPanics(t, func() {
		s.Emit(context.Background(), Event{Type: EventRunFailed, FailureKind: "internal"})
	})
	assert.True(t, calledSecond)
}

func TestSurface_Emit_Queued_DispatchesAsynchronously(t *testing.T) {
	var mu sync.Mutex
	var got []Event

	sink := func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	}

	s := NewSurface(4, sink)
	s.Emit(context.Background(), Event{Type: EventPartitionWritten, Path: "bronze/orders/customers/dt=2026-07-30"})
	s.Emit(context.Background(), Event{Type: EventRunCompleted})
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, EventPartitionWritten, got[0].Type)
	assert.Equal(t, EventRunCompleted, got[1].Type)
}

func TestSurface_Emit_QueueFull_DropsRatherThanBlocks(t *testing.T) {
	block := make(chan struct{})
	sink := func(ctx context.Context, e Event) error {
		<-block
		return nil
	}

	s := NewSurface(1, sink)
	s.Emit(context.Background(), Event{Type: EventRunStarted})
	// the drain goroutine may or may not have taken the first event yet;
	// either way the next Emits must return without blocking
	s.Emit(context.Background(), Event{Type: EventSchemaSnapshot, Columns: []string{"id"}})
	s.Emit(context.Background(), Event{Type: EventRunCompleted})

	close(block)
	s.Close()
}

func TestSurface_NoSinks_IsANoop(t *testing.T) {
	s := NewSurface(0)
	assert.NotPanics(t, func() {
		s.Emit(context.Background(), Event{Type: EventRunStarted})
	})
}
