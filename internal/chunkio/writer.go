// Package chunkio implements the C5 chunk writer: it buffers records
// into row/byte-bounded chunk files (§4.6), encodes each chunk in the
// requested format(s), and returns the manifest entries (row count,
// byte size, SHA-256) the C6 manifest manager persists alongside them.
package chunkio

import (
	"bytes"
	"fmt"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/manifest"
	"github.com/cuemby/medallion/internal/model"
)

// Limits bounds a single chunk per §4.6: a chunk closes when either
// limit would be exceeded by the next record, whichever comes first.
// A zero value disables that limit.
type Limits struct {
	MaxRows  int
	MaxBytes int64
}

// ChunkSink receives one finished chunk's bytes plus its manifest
// metadata. Implementations typically write to a storage.Backend under
// the partition's staging prefix.
type ChunkSink func(name string, data []byte, info manifest.ChunkInfo) error

// Writer buffers records into chunk-sized batches and flushes each
// batch through a ChunkSink once a limit is reached or Close is called.
// A batch is encoded once per configured format (§4.5: "when both
// formats are requested, each chunk is written in each format under
// distinct extensions; both share the same logical index").
type Writer struct {
	formats []config.OutputFormat
	limits  Limits
	sink    ChunkSink
	prefix  string

	chunkIdx int
	buf      []model.Record
	approxSz int64
}

// NewWriter builds a Writer that names chunks "<prefix>-<index>.<ext>",
// one file per format in formats sharing the same <index>. formats must
// be non-empty.
func NewWriter(formats []config.OutputFormat, limits Limits, prefix string, sink ChunkSink) *Writer {
	return &Writer{formats: formats, limits: limits, sink: sink, prefix: prefix}
}

// recordApproxSize estimates a record's encoded size for the byte
// limit; exactness does not matter, only that it is monotonic and
// roughly proportional to the eventual encoded size.
func recordApproxSize(r model.Record) int64 {
	var n int64
	for k, v := range r {
		n += int64(len(k)) + 16
		if s, ok := v.(string); ok {
			n += int64(len(s))
		}
	}
	return n
}

// WriteRecord adds r to the current chunk, flushing first if adding it
// would exceed either configured limit.
func (w *Writer) WriteRecord(r model.Record) error {
	sz := recordApproxSize(r)
	exceedsRows := w.limits.MaxRows > 0 && len(w.buf)+1 > w.limits.MaxRows
	exceedsBytes := w.limits.MaxBytes > 0 && len(w.buf) > 0 && w.approxSz+sz > w.limits.MaxBytes

	if exceedsRows || exceedsBytes {
		if err := w.flush(); err != nil {
			return err
		}
	}

	w.buf = append(w.buf, r)
	w.approxSz += sz
	return nil
}

// Close flushes any remaining buffered records.
func (w *Writer) Close() error {
	if len(w.buf) == 0 {
		return nil
	}
	return w.flush()
}

func (w *Writer) flush() error {
	for _, format := range w.formats {
		if err := w.flushFormat(format); err != nil {
			return err
		}
	}
	w.chunkIdx++
	w.buf = w.buf[:0]
	w.approxSz = 0
	return nil
}

// flushFormat encodes the current buffer in one format and sinks it
// under the batch's shared logical index.
func (w *Writer) flushFormat(format config.OutputFormat) error {
	var body bytes.Buffer
	var ext string

	switch format {
	case config.FormatColumnar:
		ext = "mcol"
		cw := newColumnarWriter(&body)
		for _, r := range w.buf {
			if err := cw.WriteRecord(r); err != nil {
				return err
			}
		}
		if err := cw.Close(); err != nil {
			return err
		}
	case config.FormatRow:
		ext = "csv"
		rw := newRowWriter(&body)
		for _, r := range w.buf {
			if err := rw.WriteRecord(r); err != nil {
				return err
			}
		}
		if err := rw.Flush(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("chunkio: unknown output format %q", format)
	}

	data := body.Bytes()
	digest, size, err := manifest.HashReader(bytes.NewReader(data))
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s-%04d.%s", w.prefix, w.chunkIdx, ext)

	info := manifest.ChunkInfo{
		Name:     name,
		RowCount: int64(len(w.buf)),
		ByteSize: size,
		SHA256:   digest,
		Format:   string(format),
	}

	return w.sink(name, data, info)
}
