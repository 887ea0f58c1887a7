// Package file implements the file source adapter of §4.3: a
// glob-matched streaming reader over csv/tsv/json/json-lines/columnar
// inputs, with optional column projection and a row limit.
package file

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cuemby/medallion/internal/chunkio"
	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/model"
	"github.com/cuemby/medallion/internal/source"
)

// Adapter implements source.Adapter for config.SourceFile specs. It is
// stateless across runs: file sources have no cursor concept (§4.3),
// so Cursor always returns "".
type Adapter struct {
	spec config.FileSourceSpec
}

// New builds a file adapter for spec.
func New(spec config.FileSourceSpec) *Adapter {
	return &Adapter{spec: spec}
}

func (a *Adapter) Cursor() string { return "" }

// Extract matches spec.Glob, reads each matched file in path-sorted
// order, and streams records until spec.RowLimit is reached (0 means
// unlimited).
func (a *Adapter) Extract(ctx context.Context, cursor string) (<-chan source.Item, error) {
	paths, err := filepath.Glob(a.spec.Glob)
	if err != nil {
		return nil, fmt.Errorf("file source: bad glob %q: %w", a.spec.Glob, err)
	}
	sort.Strings(paths)

	out := make(chan source.Item, 8)
	go func() {
		defer close(out)
		a.run(ctx, paths, out)
	}()
	return out, nil
}

func (a *Adapter) run(ctx context.Context, paths []string, out chan<- source.Item) {
	emitted := 0
	for _, p := range paths {
		if a.spec.RowLimit > 0 && emitted >= a.spec.RowLimit {
			return
		}
		if err := a.readFile(ctx, p, &emitted, out); err != nil {
			select {
			case out <- source.Item{Err: fmt.Errorf("file source: %s: %w", p, err)}:
			case <-ctx.Done():
			}
			return
		}
	}
}

func (a *Adapter) readFile(ctx context.Context, path string, emitted *int, out chan<- source.Item) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch a.spec.Format {
	case config.FileCSV:
		return a.readDelimited(ctx, f, ',', emitted, out)
	case config.FileTSV:
		return a.readDelimited(ctx, f, '\t', emitted, out)
	case config.FileJSON:
		return a.readJSONArray(ctx, f, emitted, out)
	case config.FileJSONLines:
		return a.readJSONLines(ctx, f, emitted, out)
	case config.FileColumnar:
		return a.readColumnar(ctx, f, emitted, out)
	default:
		return fmt.Errorf("unsupported file format %q", a.spec.Format)
	}
}

func (a *Adapter) readDelimited(ctx context.Context, f *os.File, delim rune, emitted *int, out chan<- source.Item) error {
	r := csv.NewReader(f)
	r.Comma = delim
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	header = append([]string(nil), header...)

	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		rec := make(model.Record, len(header))
		for i, h := range header {
			if i < len(row) {
				rec[h] = row[i]
			}
		}
		rec = a.project(rec)

		if !a.emit(ctx, rec, emitted, out) {
			return nil
		}
	}
}

func (a *Adapter) readJSONArray(ctx context.Context, f *os.File, emitted *int, out chan<- source.Item) error {
	var docs []model.Record
	if err := json.NewDecoder(f).Decode(&docs); err != nil {
		return err
	}
	for _, rec := range docs {
		if !a.emit(ctx, a.project(rec), emitted, out) {
			return nil
		}
	}
	return nil
}

func (a *Adapter) readJSONLines(ctx context.Context, f *os.File, emitted *int, out chan<- source.Item) error {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		if !a.emit(ctx, a.project(rec), emitted, out) {
			return nil
		}
	}
	return scanner.Err()
}

func (a *Adapter) readColumnar(ctx context.Context, f *os.File, emitted *int, out chan<- source.Item) error {
	records, err := chunkio.ReadColumnarChunk(f)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if !a.emit(ctx, a.project(rec), emitted, out) {
			return nil
		}
	}
	return nil
}

func (a *Adapter) project(rec model.Record) model.Record {
	if len(a.spec.Columns) == 0 {
		return rec
	}
	out := make(model.Record, len(a.spec.Columns))
	for _, c := range a.spec.Columns {
		out[c] = rec[c]
	}
	return out
}

// emit returns false once spec.RowLimit has been reached or ctx is
// done, signaling the caller to stop reading.
func (a *Adapter) emit(ctx context.Context, rec model.Record, emitted *int, out chan<- source.Item) bool {
	if a.spec.RowLimit > 0 && *emitted >= a.spec.RowLimit {
		return false
	}
	select {
	case out <- source.Item{Record: rec}:
		*emitted++
		return a.spec.RowLimit == 0 || *emitted < a.spec.RowLimit
	case <-ctx.Done():
		return false
	}
}
