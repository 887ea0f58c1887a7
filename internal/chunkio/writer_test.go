package chunkio

import (
	"bytes"
	"testing"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/manifest"
	"github.com/cuemby/medallion/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnarRoundTrip(t *testing.T) {
	records := []model.Record{
		{"id": "1", "name": "alice", "age": int64(30)},
		{"id": "2", "name": "bob", "age": int64(25)},
		{"id": "3", "name": "alice", "age": int64(31)},
	}

	var buf []byte
	sink := func(name string, data []byte, info manifest.ChunkInfo) error {
		buf = data
		return nil
	}

	w := NewWriter([]config.OutputFormat{config.FormatColumnar}, Limits{}, "part", sink)
	for _, r := range records {
		require.NoError(t, w.WriteRecord(r))
	}
	require.NoError(t, w.Close())
	require.NotEmpty(t, buf)

	got, err := ReadColumnarChunk(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Len(t, got, len(records))

	for i, want := range records {
		assert.Equal(t, want["id"], got[i]["id"])
		assert.Equal(t, want["name"], got[i]["name"])
	}
}

func TestRowFormat_RoundTrip(t *testing.T) {
	records := []model.Record{
		{"id": "1", "active": true},
		{"id": "2", "active": false},
	}

	var buf []byte
	sink := func(name string, data []byte, info manifest.ChunkInfo) error {
		buf = data
		return nil
	}

	w := NewWriter([]config.OutputFormat{config.FormatRow}, Limits{}, "part", sink)
	for _, r := range records {
		require.NoError(t, w.WriteRecord(r))
	}
	require.NoError(t, w.Close())

	got, err := ReadRowChunk(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0]["id"])
}

func TestWriter_RespectsRowLimit(t *testing.T) {
	var chunks []manifest.ChunkInfo
	sink := func(name string, data []byte, info manifest.ChunkInfo) error {
		chunks = append(chunks, info)
		return nil
	}

	w := NewWriter([]config.OutputFormat{config.FormatRow}, Limits{MaxRows: 2}, "part", sink)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteRecord(model.Record{"i": int64(i)}))
	}
	require.NoError(t, w.Close())

	require.Len(t, chunks, 3)
	assert.Equal(t, int64(2), chunks[0].RowCount)
	assert.Equal(t, int64(2), chunks[1].RowCount)
	assert.Equal(t, int64(1), chunks[2].RowCount)
}

func TestWriter_RespectsByteLimit(t *testing.T) {
	var chunks []manifest.ChunkInfo
	sink := func(name string, data []byte, info manifest.ChunkInfo) error {
		chunks = append(chunks, info)
		return nil
	}

	w := NewWriter([]config.OutputFormat{config.FormatRow}, Limits{MaxBytes: 60}, "part", sink)
	for i := 0; i < 4; i++ {
		require.NoError(t, w.WriteRecord(model.Record{"payload": "aaaaaaaaaaaaaaaaaaaaaaaaaaaa"}))
	}
	require.NoError(t, w.Close())

	assert.Greater(t, len(chunks), 1)
}

func TestWriter_DualFormat_SharesLogicalIndex(t *testing.T) {
	var chunks []manifest.ChunkInfo
	sink := func(name string, data []byte, info manifest.ChunkInfo) error {
		chunks = append(chunks, info)
		return nil
	}

	w := NewWriter([]config.OutputFormat{config.FormatColumnar, config.FormatRow}, Limits{MaxRows: 2}, "part", sink)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteRecord(model.Record{"i": int64(i)}))
	}
	require.NoError(t, w.Close())

	require.Len(t, chunks, 4)
	assert.Equal(t, "part-0000.mcol", chunks[0].Name)
	assert.Equal(t, "part-0000.csv", chunks[1].Name)
	assert.Equal(t, "part-0001.mcol", chunks[2].Name)
	assert.Equal(t, "part-0001.csv", chunks[3].Name)
	assert.Equal(t, chunks[0].RowCount, chunks[1].RowCount)
	assert.Equal(t, chunks[2].RowCount, chunks[3].RowCount)
}

func TestWriter_ChunksHaveDistinctChecksums(t *testing.T) {
	var chunks []manifest.ChunkInfo
	sink := func(name string, data []byte, info manifest.ChunkInfo) error {
		chunks = append(chunks, info)
		return nil
	}

	w := NewWriter([]config.OutputFormat{config.FormatRow}, Limits{MaxRows: 1}, "part", sink)
	require.NoError(t, w.WriteRecord(model.Record{"v": "a"}))
	require.NoError(t, w.WriteRecord(model.Record{"v": "b"}))
	require.NoError(t, w.Close())

	require.Len(t, chunks, 2)
	assert.NotEqual(t, chunks[0].SHA256, chunks[1].SHA256)
}
