package chunkio

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/cuemby/medallion/internal/model"
)

// columnarMagic identifies a medallion columnar chunk, distinct from
// any parquet/Arrow magic bytes since this format is hand-rolled (no
// fetchable parquet/Arrow library exists in the example pack).
var columnarMagic = [4]byte{'M', 'C', 'O', 'L'}

// columnarWriter accumulates records in memory and, on Close, encodes
// them column-by-column: string columns are dictionary-encoded (each
// distinct value stored once, rows reference it by index), other
// columns are stored as a JSON array. The whole body is wrapped in a
// single zstd frame.
type columnarWriter struct {
	schema  *model.Schema
	records []model.Record
	out     io.Writer
}

func newColumnarWriter(w io.Writer) *columnarWriter {
	return &columnarWriter{schema: model.NewSchema(), out: w}
}

func (cw *columnarWriter) WriteRecord(r model.Record) error {
	cw.schema.Observe(r)
	cw.records = append(cw.records, r.Clone())
	return nil
}

// Close encodes and compresses the accumulated records, writing the
// final chunk to the underlying writer. It is idempotent-unsafe: call
// once per chunk.
func (cw *columnarWriter) Close() error {
	var body bytes.Buffer

	if _, err := body.Write(columnarMagic[:]); err != nil {
		return err
	}
	if err := writeUvarint(&body, uint64(len(cw.records))); err != nil {
		return err
	}

	columns := cw.schema.Columns()
	schemaBytes, err := json.Marshal(columns)
	if err != nil {
		return err
	}
	if err := writeUvarint(&body, uint64(len(schemaBytes))); err != nil {
		return err
	}
	if _, err := body.Write(schemaBytes); err != nil {
		return err
	}

	for _, col := range columns {
		if err := encodeColumn(&body, col, cw.records); err != nil {
			return fmt.Errorf("chunkio: encode column %s: %w", col.Name, err)
		}
	}

	enc, err := zstd.NewWriter(cw.out)
	if err != nil {
		return err
	}
	if _, err := enc.Write(body.Bytes()); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func encodeColumn(body *bytes.Buffer, col model.Column, records []model.Record) error {
	if col.Type == model.TypeString {
		return encodeDictionaryColumn(body, col.Name, records)
	}

	values := make([]any, len(records))
	for i, r := range records {
		values[i] = r[col.Name]
	}
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return writeLenPrefixed(body, data)
}

// encodeDictionaryColumn stores each distinct non-null string value
// once (sorted, for determinism) and each row as a varint index into
// that dictionary, with index 0 reserved for null/absent.
func encodeDictionaryColumn(body *bytes.Buffer, name string, records []model.Record) error {
	seen := make(map[string]uint32)
	var dict []string
	for _, r := range records {
		v, ok := r[name]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if _, exists := seen[s]; !exists {
			seen[s] = 0
			dict = append(dict, s)
		}
	}
	sort.Strings(dict)
	for i, s := range dict {
		seen[s] = uint32(i + 1) // 0 reserved for null
	}

	if err := writeUvarint(body, uint64(len(dict))); err != nil {
		return err
	}
	for _, s := range dict {
		if err := writeLenPrefixed(body, []byte(s)); err != nil {
			return err
		}
	}

	for _, r := range records {
		v, ok := r[name]
		var idx uint32
		if ok && v != nil {
			if s, ok := v.(string); ok {
				idx = seen[s]
			}
		}
		if err := writeUvarint(body, uint64(idx)); err != nil {
			return err
		}
	}
	return nil
}

func writeUvarint(w io.Writer, v uint64) error {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, v)
	_, err := w.Write(buf[:n])
	return err
}

func writeLenPrefixed(w io.Writer, data []byte) error {
	if err := writeUvarint(w, uint64(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadColumnarChunk decompresses and decodes a columnar chunk back into
// row-oriented records, reversing encodeColumn/encodeDictionaryColumn.
func ReadColumnarChunk(r io.Reader) ([]model.Record, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	body, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewReader(body)

	var magic [4]byte
	if _, err := io.ReadFull(buf, magic[:]); err != nil {
		return nil, err
	}
	if magic != columnarMagic {
		return nil, fmt.Errorf("chunkio: bad columnar magic %q", magic)
	}

	rowCount, err := binary.ReadUvarint(buf)
	if err != nil {
		return nil, err
	}
	schemaLen, err := binary.ReadUvarint(buf)
	if err != nil {
		return nil, err
	}
	schemaBytes := make([]byte, schemaLen)
	if _, err := io.ReadFull(buf, schemaBytes); err != nil {
		return nil, err
	}
	var columns []model.Column
	if err := json.Unmarshal(schemaBytes, &columns); err != nil {
		return nil, err
	}

	records := make([]model.Record, rowCount)
	for i := range records {
		records[i] = make(model.Record, len(columns))
	}

	for _, col := range columns {
		if err := decodeColumn(buf, col, records); err != nil {
			return nil, fmt.Errorf("chunkio: decode column %s: %w", col.Name, err)
		}
	}
	return records, nil
}

func decodeColumn(buf *bytes.Reader, col model.Column, records []model.Record) error {
	if col.Type == model.TypeString {
		return decodeDictionaryColumn(buf, col.Name, records)
	}

	dataLen, err := binary.ReadUvarint(buf)
	if err != nil {
		return err
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(buf, data); err != nil {
		return err
	}
	var values []any
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	for i, v := range values {
		if i < len(records) {
			records[i][col.Name] = v
		}
	}
	return nil
}

func decodeDictionaryColumn(buf *bytes.Reader, name string, records []model.Record) error {
	dictSize, err := binary.ReadUvarint(buf)
	if err != nil {
		return err
	}
	dict := make([]string, dictSize)
	for i := range dict {
		strLen, err := binary.ReadUvarint(buf)
		if err != nil {
			return err
		}
		data := make([]byte, strLen)
		if _, err := io.ReadFull(buf, data); err != nil {
			return err
		}
		dict[i] = string(data)
	}

	for i := range records {
		idx, err := binary.ReadUvarint(buf)
		if err != nil {
			return err
		}
		if idx == 0 {
			records[i][name] = nil
			continue
		}
		pos := int(idx) - 1
		if pos < 0 || pos >= len(dict) {
			return fmt.Errorf("chunkio: dictionary index %d out of range", idx)
		}
		records[i][name] = dict[pos]
	}
	return nil
}
