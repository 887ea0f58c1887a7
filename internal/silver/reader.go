package silver

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cuemby/medallion/internal/chunkio"
	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/manifest"
	"github.com/cuemby/medallion/internal/model"
	"github.com/cuemby/medallion/internal/resilience"
	"github.com/cuemby/medallion/internal/storage"
)

// BronzeInput is a verified, readable Bronze partition: its manifest
// has already been validated "valid" (§4.8 "If metadata is absent or
// corrupt, the run fails before reading chunks").
type BronzeInput struct {
	Path     string
	Metadata *manifest.Metadata
	backend  storage.Backend
}

// OpenBronzePartition loads and validates the manifest pair at path,
// returning a not_found failure if either document is missing and a
// corrupt_manifest failure if checksums don't line up.
func OpenBronzePartition(ctx context.Context, backend storage.Backend, path string) (*BronzeInput, error) {
	metaBytes, err := getAll(ctx, backend, path+manifest.MetadataFile)
	if err != nil {
		return nil, resilience.NewFailure(resilience.KindNotFound, fmt.Errorf("silver: bronze metadata missing at %s: %w", path, err))
	}
	sumBytes, err := getAll(ctx, backend, path+manifest.ChecksumsFile)
	if err != nil {
		return nil, resilience.NewFailure(resilience.KindNotFound, fmt.Errorf("silver: bronze checksums missing at %s: %w", path, err))
	}

	meta, err := manifest.UnmarshalMetadata(metaBytes)
	if err != nil {
		return nil, resilience.NewFailure(resilience.KindCorruptManifest, err)
	}
	sums, err := manifest.UnmarshalChecksums(sumBytes)
	if err != nil {
		return nil, resilience.NewFailure(resilience.KindCorruptManifest, err)
	}
	if status := manifest.Validate(meta, sums); status != manifest.StatusValid {
		return nil, resilience.NewFailure(resilience.KindCorruptManifest, fmt.Errorf("silver: bronze partition %s is %s", path, status))
	}

	return &BronzeInput{Path: path, Metadata: meta, backend: backend}, nil
}

// Records streams every record across every chunk of the partition, in
// chunk-sequence then within-chunk order (§5 "chunk sequence reflects
// the adapter's delivery order"), pushing each onto the returned
// channel. The channel is closed once every chunk has been read or an
// error occurs; a non-nil error is always the final value sent.
func (b *BronzeInput) Records(ctx context.Context) <-chan RecordOrErr {
	out := make(chan RecordOrErr, 64)
	go func() {
		defer close(out)

		chunks := selectReadableChunks(b.Metadata.Chunks)

		for _, chunk := range chunks {
			data, err := getAll(ctx, b.backend, b.Path+chunk.Name)
			if err != nil {
				out <- RecordOrErr{Err: resilience.NewFailure(resilience.KindNetwork, err)}
				return
			}
			records, err := decodeChunk(chunk.Name, data)
			if err != nil {
				out <- RecordOrErr{Err: resilience.NewFailure(resilience.KindCorruptManifest, err)}
				return
			}
			for _, r := range records {
				select {
				case out <- RecordOrErr{Record: r}:
				case <-ctx.Done():
					out <- RecordOrErr{Err: resilience.NewFailure(resilience.KindCancelled, ctx.Err())}
					return
				}
			}
		}
	}()
	return out
}

// selectReadableChunks collapses a partition's chunk list to one
// physical file per logical index. A partition written in more than one
// format (§4.5) lists every physical file in metadata.Chunks so
// checksums.json can validate all of them, but a record stream must
// read each logical chunk exactly once or rows would be double-counted;
// columnar is preferred when both are present since it round-trips
// typed values more precisely than the row-delimited encoding.
func selectReadableChunks(chunks []manifest.ChunkInfo) []manifest.ChunkInfo {
	byIndex := make(map[string]manifest.ChunkInfo, len(chunks))
	order := make([]string, 0, len(chunks))
	for _, c := range chunks {
		idx := logicalIndex(c.Name)
		if existing, ok := byIndex[idx]; !ok {
			byIndex[idx] = c
			order = append(order, idx)
		} else if preferChunk(c, existing) {
			byIndex[idx] = c
		}
	}
	out := make([]manifest.ChunkInfo, len(order))
	for i, idx := range order {
		out[i] = byIndex[idx]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func logicalIndex(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

func preferChunk(candidate, current manifest.ChunkInfo) bool {
	return candidate.Format == string(config.FormatColumnar) && current.Format != string(config.FormatColumnar)
}

// RecordOrErr is one item of a Bronze record stream.
type RecordOrErr struct {
	Record model.Record
	Err    error
}

func decodeChunk(name string, data []byte) ([]model.Record, error) {
	switch ext(name) {
	case "mcol":
		return chunkio.ReadColumnarChunk(bytesReader(data))
	case "csv":
		return chunkio.ReadRowChunk(bytesReader(data))
	default:
		return nil, fmt.Errorf("silver: unrecognized chunk extension for %q", name)
	}
}

func ext(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return ""
}

func getAll(ctx context.Context, backend storage.Backend, key string) ([]byte, error) {
	rc, err := backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type byteReader struct {
	data []byte
	pos  int
}

func bytesReader(data []byte) *byteReader { return &byteReader{data: data} }

func (b *byteReader) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}
