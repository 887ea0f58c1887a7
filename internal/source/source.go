// Package source defines the C3 source adapter contract: a pull-based
// extraction stream that yields records over a channel until exhausted
// or cancelled, plus a cursor value the Bronze runner persists for the
// next incremental run (§4.3).
package source

import (
	"context"

	"github.com/cuemby/medallion/internal/model"
)

// Item is one yielded record or terminal error from an Adapter's
// stream.
type Item struct {
	Record model.Record
	Err    error
}

// Adapter pulls records from one external collaborator. Extract starts
// the stream; the returned channel is closed when extraction finishes
// (successfully or not) or ctx is cancelled. The adapter owns any
// network/file/db resources it opens and must release them before
// closing the channel.
type Adapter interface {
	// Extract begins streaming from the given cursor (empty string for
	// a full/initial load). The channel yields items in source order.
	Extract(ctx context.Context, cursor string) (<-chan Item, error)

	// Cursor returns the cursor value to persist after a successful
	// extraction, representing the point a subsequent incremental run
	// should resume from.
	Cursor() string
}
