package silver

import (
	"bytes"
	"context"
	"time"

	"github.com/cuemby/medallion/internal/chunkio"
	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/manifest"
	"github.com/cuemby/medallion/internal/metrics"
	"github.com/cuemby/medallion/internal/model"
	"github.com/cuemby/medallion/internal/storage"
)

// partitionWriter commits one Silver output artifact (the main dataset,
// or the "current"/"history" pair for scd_type_2, or the "_errors/"
// sidecar) to its own partition path using the same staging-then-rename
// atomicity protocol as the Bronze runner (§4.5 steps 1-5), so a reader
// never observes a partially-written Silver partition.
type partitionWriter struct {
	backend      storage.Backend
	partitionDir string
	stagingDir   string
	formats      []config.OutputFormat

	cw     *chunkio.Writer
	schema *model.Schema

	checksums  *manifest.Checksums
	chunkInfos []manifest.ChunkInfo
	bytesTotal int64
	rowCount   int64
}

func newPartitionWriter(ctx context.Context, backend storage.Backend, partitionDir, runID string, formats []config.OutputFormat, limits chunkio.Limits) *partitionWriter {
	stagingDir := partitionDir[:len(partitionDir)-1] + ".staging-" + runID
	pw := &partitionWriter{
		backend:      backend,
		partitionDir: partitionDir,
		stagingDir:   stagingDir,
		formats:      formats,
		schema:       model.NewSchema(),
		checksums:    manifest.NewChecksums(),
	}
	sink := func(name string, data []byte, info manifest.ChunkInfo) error {
		key := pw.stagingDir + "/" + name
		if err := backend.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
			return err
		}
		metrics.ChunksWrittenTotal.WithLabelValues(info.Format).Inc()
		pw.checksums.Add(info.Name, info.SHA256)
		pw.chunkInfos = append(pw.chunkInfos, info)
		pw.bytesTotal += info.ByteSize
		return nil
	}
	pw.cw = chunkio.NewWriter(formats, limits, "part", sink)
	return pw
}

func (pw *partitionWriter) WriteRecord(r model.Record) error {
	pw.schema.Observe(r)
	pw.rowCount++
	return pw.cw.WriteRecord(r)
}

// Commit closes the chunk writer, writes the manifest pair, and
// atomically promotes the staging directory to the final partition
// path. meta's record/chunk counters are filled in from what was
// actually written; callers only need to set identity fields.
func (pw *partitionWriter) Commit(ctx context.Context, meta *manifest.Metadata) error {
	if err := pw.cw.Close(); err != nil {
		return err
	}

	meta.RecordCount = pw.rowCount
	meta.ChunkCount = len(pw.chunkInfos)
	meta.ChunkBytesTotal = pw.bytesTotal
	meta.Chunks = pw.chunkInfos
	meta.Schema = pw.schema.Columns()
	meta.PartitionKey = pw.partitionDir
	meta.WrittenAt = time.Now().UTC()
	if meta.FormatList == nil {
		meta.FormatList = formatStrings(pw.formats)
	}

	metaBytes, err := manifest.MarshalMetadata(meta)
	if err != nil {
		return err
	}
	if err := pw.backend.Put(ctx, pw.stagingDir+"/"+manifest.MetadataFile, bytes.NewReader(metaBytes), int64(len(metaBytes))); err != nil {
		return err
	}
	sumBytes, err := manifest.MarshalChecksums(pw.checksums)
	if err != nil {
		return err
	}
	if err := pw.backend.Put(ctx, pw.stagingDir+"/"+manifest.ChecksumsFile, bytes.NewReader(sumBytes), int64(len(sumBytes))); err != nil {
		return err
	}

	if err := pw.backend.DeletePrefix(ctx, pw.partitionDir); err != nil {
		return err
	}
	if err := pw.backend.Rename(ctx, pw.stagingDir, pw.partitionDir); err != nil {
		return err
	}
	metrics.PartitionsWrittenTotal.WithLabelValues("silver", meta.Entity).Inc()
	metrics.RowsWrittenTotal.WithLabelValues("silver", meta.Entity).Add(float64(pw.rowCount))
	return nil
}

// Abort removes any partial staging content after a failed run, so
// no intermediate state is ever observable (§4.5 step 2, §5).
func (pw *partitionWriter) Abort(ctx context.Context) {
	_ = pw.backend.DeletePrefix(ctx, pw.stagingDir)
}

// RowCount reports how many records have been written so far.
func (pw *partitionWriter) RowCount() int64 { return pw.rowCount }

func formatStrings(formats []config.OutputFormat) []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = string(f)
	}
	return out
}
