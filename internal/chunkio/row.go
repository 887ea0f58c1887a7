package chunkio

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/cuemby/medallion/internal/model"
)

// rowWriter emits the row-delimited output_spec.format of §4.5: a
// UTF-8, comma-separated file with a header row and values escaped per
// standard CSV quoting rules, written with stdlib encoding/csv — the
// same idiom the file source adapter reads CSV/TSV with.
type rowWriter struct {
	w    *csv.Writer
	cols []string
}

func newRowWriter(w io.Writer) *rowWriter {
	return &rowWriter{w: csv.NewWriter(w)}
}

// WriteRecord writes r as one CSV row. The column order is fixed by
// the first record written to this chunk, since records within one
// extraction share a schema (§3); columns absent from a later record
// are written empty.
func (rw *rowWriter) WriteRecord(r model.Record) error {
	if rw.cols == nil {
		rw.cols = columnsOf(r)
		if err := rw.w.Write(rw.cols); err != nil {
			return err
		}
	}
	row := make([]string, len(rw.cols))
	for i, c := range rw.cols {
		row[i] = cellString(r[c])
	}
	return rw.w.Write(row)
}

func (rw *rowWriter) Flush() error {
	rw.w.Flush()
	return rw.w.Error()
}

func columnsOf(r model.Record) []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// ReadRowChunk decodes a row-format chunk back into records, in file
// order, for Silver-side ingestion of a Bronze chunk. Every cell comes
// back as a string or nil (empty cell); callers needing the original
// typed value rely on the columnar format instead.
func ReadRowChunk(r io.Reader) ([]model.Record, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []model.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := make(model.Record, len(header))
		for i, col := range header {
			if i >= len(row) {
				rec[col] = nil
				continue
			}
			rec[col] = cellValue(row[i])
		}
		out = append(out, rec)
	}
	return out, nil
}

func cellValue(s string) any {
	if s == "" {
		return nil
	}
	return s
}
