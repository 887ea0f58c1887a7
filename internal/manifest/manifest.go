// Package manifest implements the C6 manifest manager: the metadata.json
// and checksums.json documents written alongside every committed
// partition (§4.5), and the validity checks ("valid", "missing",
// "corrupt") a reader runs before trusting a partition's contents.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/medallion/internal/model"
)

const (
	MetadataFile   = "metadata.json"
	ChecksumsFile  = "checksums.json"
)

// Status is the outcome of Validate.
type Status string

const (
	StatusValid   Status = "valid"
	StatusMissing Status = "missing"
	StatusCorrupt Status = "corrupt"
)

// ChunkInfo describes one written chunk file. Format names which of the
// partition's format_list this physical file encodes; when a partition
// is written in more than one format, several ChunkInfo entries share
// the same logical index (the numeric part of Name) and differ only in
// Format/extension.
type ChunkInfo struct {
	Name     string `json:"name"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
	SHA256   string `json:"sha256"`
	Format   string `json:"format,omitempty"`
}

// Ownership records who/what produced a partition, surfaced as an
// optional nullable object per §4.5.
type Ownership struct {
	System string `json:"system,omitempty"`
	Team   string `json:"team,omitempty"`
}

// Metadata is the partition-level metadata.json document (§4.5's
// mandatory field list).
type Metadata struct {
	RunID        string         `json:"run_id"`
	System       string         `json:"system,omitempty"`
	Entity       string         `json:"entity"`
	RunDate      time.Time      `json:"run_date"`
	LoadPattern  string         `json:"load_pattern,omitempty"`
	Domain       string         `json:"domain,omitempty"`
	AppliedModel string         `json:"applied_model,omitempty"`
	PartitionKey string         `json:"partition_key"`
	WrittenAt    time.Time      `json:"written_at"`

	RecordCount     int64 `json:"record_count"`
	ChunkCount      int   `json:"chunk_count"`
	ChunkBytesTotal int64 `json:"chunk_bytes_total"`
	DurationMS      int64 `json:"duration_ms"`

	FormatList []string    `json:"format_list"`
	Chunks     []ChunkInfo `json:"chunks"`
	Schema     []model.Column `json:"schema"`

	Cursor    *string    `json:"cursor"`
	Ownership *Ownership `json:"ownership"`

	BronzePartitionRef string `json:"bronze_partition_ref,omitempty"`
	BadRowCount        int64  `json:"bad_row_count,omitempty"`
}

// Checksums is the standalone checksums.json document per §6: a flat
// map from chunk file name to hex-encoded SHA-256 digest, kept separate
// from metadata so a reader can validate chunk integrity without
// re-parsing the (potentially much larger) schema/chunk metadata
// structure.
type Checksums map[string]string

// NewChecksums returns an empty checksums document.
func NewChecksums() *Checksums {
	c := make(Checksums)
	return &c
}

// Add records the digest for one chunk file.
func (c *Checksums) Add(name, digest string) {
	(*c)[name] = digest
}

// HashReader consumes r fully, returning its hex-encoded SHA-256 digest
// and the byte count read.
func HashReader(r io.Reader) (digest string, size int64, err error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// MarshalMetadata serializes m as indented JSON.
func MarshalMetadata(m *Metadata) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// UnmarshalMetadata parses a metadata.json document.
func UnmarshalMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: corrupt metadata: %w", err)
	}
	return &m, nil
}

// MarshalChecksums serializes c as indented JSON.
func MarshalChecksums(c *Checksums) ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// UnmarshalChecksums parses a checksums.json document.
func UnmarshalChecksums(data []byte) (*Checksums, error) {
	var c Checksums
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("manifest: corrupt checksums: %w", err)
	}
	return &c, nil
}

// Validate checks that every chunk named in m has a matching digest in
// c and that the digest equals the one recorded in m.Chunks, returning
// StatusCorrupt on any mismatch and StatusValid otherwise. Callers are
// responsible for mapping a missing metadata/checksums read to
// StatusMissing before calling Validate.
func Validate(m *Metadata, c *Checksums) Status {
	for _, chunk := range m.Chunks {
		digest, ok := (*c)[chunk.Name]
		if !ok {
			return StatusCorrupt
		}
		if digest != chunk.SHA256 {
			return StatusCorrupt
		}
	}
	return StatusValid
}
