package manifest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashReader(t *testing.T) {
	digest, size, err := HashReader(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)
	assert.Len(t, digest, 64)

	digest2, _, err := HashReader(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, digest, digest2)

	digest3, _, err := HashReader(strings.NewReader("different"))
	require.NoError(t, err)
	assert.NotEqual(t, digest, digest3)
}

func TestMetadataRoundTrip(t *testing.T) {
	m := &Metadata{
		RunID:        "run-1",
		Entity:       "customers",
		PartitionKey: "dt=2026-07-30",
		WrittenAt:    time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		RecordCount:  10,
		Chunks: []ChunkInfo{
			{Name: "part-0.json", RowCount: 10, ByteSize: 128, SHA256: "abc"},
		},
	}
	data, err := MarshalMetadata(m)
	require.NoError(t, err)

	got, err := UnmarshalMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, m.RunID, got.RunID)
	assert.Equal(t, m.RecordCount, got.RecordCount)
	assert.Equal(t, m.Chunks, got.Chunks)
}

func TestUnmarshalMetadata_Corrupt(t *testing.T) {
	_, err := UnmarshalMetadata([]byte("{not json"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		meta   *Metadata
		sums   *Checksums
		status Status
	}{
		{
			name:   "matching digests is valid",
			meta:   &Metadata{Chunks: []ChunkInfo{{Name: "a.json", SHA256: "deadbeef"}}},
			sums:   &Checksums{"a.json": "deadbeef"},
			status: StatusValid,
		},
		{
			name:   "missing digest is corrupt",
			meta:   &Metadata{Chunks: []ChunkInfo{{Name: "a.json", SHA256: "deadbeef"}}},
			sums:   &Checksums{},
			status: StatusCorrupt,
		},
		{
			name:   "mismatched digest is corrupt",
			meta:   &Metadata{Chunks: []ChunkInfo{{Name: "a.json", SHA256: "deadbeef"}}},
			sums:   &Checksums{"a.json": "wrongvalue"},
			status: StatusCorrupt,
		},
		{
			name: "no chunks is valid",
			meta: &Metadata{},
			sums: NewChecksums(),
			status: StatusValid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, Validate(tt.meta, tt.sums))
		})
	}
}
