package silver

import (
	"bufio"
	"container/heap"
	"encoding/json"
	"os"
	"sort"

	"github.com/cuemby/medallion/internal/model"
)

// orderedRecord pairs a record with its original Bronze-stream position,
// the incremental_merge tie-break of §4.8 ("ordering by event_ts_column,
// ties broken by record position in the Bronze stream").
type orderedRecord struct {
	Record   model.Record `json:"record"`
	Position int64        `json:"position"`
}

// externalSort performs a true external merge sort over an unbounded
// input stream: records are spilled round-robin into k runs, each run
// is sorted in memory (bounded to 1/k of the partition) and rewritten,
// then a k-way merge streams the globally ordered sequence out without
// ever holding more than k records resident at once.
func externalSort(records <-chan orderedRecord, k int, eventTSColumn string) (<-chan model.Record, error) {
	runs := make([]*spillRun, k)
	for i := range runs {
		r, err := newSpillRun()
		if err != nil {
			for j := 0; j < i; j++ {
				runs[j].close()
			}
			return nil, err
		}
		runs[i] = r
	}

	encoders := make([]*json.Encoder, k)
	for idx, r := range runs {
		encoders[idx] = json.NewEncoder(r.w)
	}

	i := 0
	for rec := range records {
		if err := encoders[i%k].Encode(rec); err != nil {
			return nil, err
		}
		i++
	}

	sortedPaths := make([]string, 0, k)
	for _, r := range runs {
		if err := r.seal(); err != nil {
			return nil, err
		}
		items, err := loadOrdered(r.file)
		if err != nil {
			return nil, err
		}
		r.close()

		sort.SliceStable(items, func(a, b int) bool {
			return lessOrdered(items[a], items[b], eventTSColumn)
		})

		sorted, err := newSpillRun()
		if err != nil {
			return nil, err
		}
		enc := json.NewEncoder(sorted.w)
		for _, it := range items {
			if err := enc.Encode(it); err != nil {
				return nil, err
			}
		}
		if err := sorted.seal(); err != nil {
			return nil, err
		}
		sortedPaths = append(sortedPaths, sorted.file.Name())
		sorted.w = nil
		sorted.file.Close()
	}

	return mergeSortedFiles(sortedPaths, eventTSColumn)
}

func loadOrdered(f *os.File) ([]orderedRecord, error) {
	dec := json.NewDecoder(f)
	var out []orderedRecord
	for dec.More() {
		var it orderedRecord
		if err := dec.Decode(&it); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func lessOrdered(a, b orderedRecord, eventTSColumn string) bool {
	if eventTSColumn != "" {
		if c := compareOrderable(a.Record[eventTSColumn], b.Record[eventTSColumn]); c != 0 {
			return c < 0
		}
	}
	return a.Position < b.Position
}

// mergeRunCursor streams one sorted run's items lazily from disk.
type mergeRunCursor struct {
	dec  *json.Decoder
	file *os.File
	cur  orderedRecord
	ok   bool
}

func newMergeRunCursor(path string) (*mergeRunCursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c := &mergeRunCursor{dec: json.NewDecoder(bufio.NewReader(f)), file: f}
	if err := c.advance(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *mergeRunCursor) advance() error {
	if !c.dec.More() {
		c.ok = false
		return nil
	}
	var it orderedRecord
	if err := c.dec.Decode(&it); err != nil {
		return err
	}
	c.cur = it
	c.ok = true
	return nil
}

func (c *mergeRunCursor) close() {
	c.file.Close()
	os.Remove(c.file.Name())
}

// mergeHeap is a min-heap over the currently-buffered head item of each
// live run cursor, ordered by the same rule used within each run.
type mergeHeap struct {
	cursors       []*mergeRunCursor
	eventTSColumn string
}

func (h *mergeHeap) Len() int { return len(h.cursors) }
func (h *mergeHeap) Less(i, j int) bool {
	return lessOrdered(h.cursors[i].cur, h.cursors[j].cur, h.eventTSColumn)
}
func (h *mergeHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }
func (h *mergeHeap) Push(x any)    { h.cursors = append(h.cursors, x.(*mergeRunCursor)) }
func (h *mergeHeap) Pop() any {
	old := h.cursors
	n := len(old)
	item := old[n-1]
	h.cursors = old[:n-1]
	return item
}

func mergeSortedFiles(paths []string, eventTSColumn string) (<-chan model.Record, error) {
	h := &mergeHeap{eventTSColumn: eventTSColumn}
	for _, p := range paths {
		c, err := newMergeRunCursor(p)
		if err != nil {
			return nil, err
		}
		if c.ok {
			h.cursors = append(h.cursors, c)
		} else {
			c.close()
		}
	}
	heap.Init(h)

	out := make(chan model.Record, 64)
	go func() {
		defer close(out)
		for h.Len() > 0 {
			top := h.cursors[0]
			out <- top.Record.Record
			if err := top.advance(); err != nil || !top.ok {
				heap.Pop(h)
				top.close()
				continue
			}
			heap.Fix(h, 0)
		}
	}()
	return out, nil
}
