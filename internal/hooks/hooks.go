// Package hooks implements the C10 hook surface: a small vocabulary of
// lifecycle events dispatched to user-registered sinks. Sink failures
// are logged and never fail the run (§4.10).
package hooks

import (
	"context"
	"time"

	"github.com/cuemby/medallion/internal/pipelog"
)

// EventType names one of the fixed lifecycle events of §4.10.
type EventType string

const (
	EventRunStarted      EventType = "run_started"
	EventRunCompleted    EventType = "run_completed"
	EventRunFailed       EventType = "run_failed"
	EventPartitionWritten EventType = "partition_written"
	EventSchemaSnapshot  EventType = "schema_snapshot"
)

// Event is the structured record dispatched to every registered sink.
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`

	// run_failed
	FailureKind    string `json:"failure_kind,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`

	// partition_written
	Path        string `json:"path,omitempty"`
	RecordCount int64  `json:"record_count,omitempty"`
	ChunkCount  int    `json:"chunk_count,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`

	// schema_snapshot
	Columns []string `json:"columns,omitempty"`
}

// Sink receives dispatched events. A sink must not block indefinitely;
// Surface enforces a bounded queue around slow sinks.
type Sink func(ctx context.Context, e Event) error

// Surface fans one lifecycle event out to every registered sink,
// isolating each sink's failure from the others and from the run
// itself.
type Surface struct {
	sinks []Sink
	queue chan Event
	done  chan struct{}
}

// NewSurface builds a Surface with a bounded dispatch queue of the
// given depth. A depth of 0 dispatches synchronously on Emit.
func NewSurface(depth int, sinks ...Sink) *Surface {
	s := &Surface{sinks: sinks}
	if depth > 0 {
		s.queue = make(chan Event, depth)
		s.done = make(chan struct{})
		go s.drain()
	}
	return s
}

func (s *Surface) drain() {
	defer close(s.done)
	for e := range s.queue {
		s.dispatch(context.Background(), e)
	}
}

// Emit dispatches e to every sink, synchronously if the surface has no
// queue, or by enqueueing otherwise. Emit never returns a sink error;
// failures are logged per §4.10.
func (s *Surface) Emit(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if s.queue == nil {
		s.dispatch(ctx, e)
		return
	}
	select {
	case s.queue <- e:
	default:
		pipelog.Logger.Warn().Str("event_type", string(e.Type)).Msg("hook surface queue full, dropping event")
	}
}

func (s *Surface) dispatch(ctx context.Context, e Event) {
	for _, sink := range s.sinks {
		if err := sink(ctx, e); err != nil {
			pipelog.Logger.Error().Err(err).Str("event_type", string(e.Type)).Msg("hook sink failed")
		}
	}
}

// Close drains any queued events and waits for the dispatch goroutine
// to finish. Safe to call on a synchronous (depth-0) surface.
func (s *Surface) Close() {
	if s.queue == nil {
		return
	}
	close(s.queue)
	<-s.done
}
