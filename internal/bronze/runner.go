// Package bronze implements the C7 Bronze runner: the orchestration
// sequence that turns a validated config into a committed, manifest-
// backed partition (§4.7) — policy gate, lease acquisition, adapter
// extraction, chunk writing, and atomic commit.
package bronze

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/medallion/internal/chunkio"
	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/hooks"
	"github.com/cuemby/medallion/internal/lease"
	"github.com/cuemby/medallion/internal/manifest"
	"github.com/cuemby/medallion/internal/metrics"
	"github.com/cuemby/medallion/internal/model"
	"github.com/cuemby/medallion/internal/partition"
	"github.com/cuemby/medallion/internal/pipelog"
	"github.com/cuemby/medallion/internal/policy"
	"github.com/cuemby/medallion/internal/resilience"
	"github.com/cuemby/medallion/internal/source"
	filesrc "github.com/cuemby/medallion/internal/source/file"
	httpsrc "github.com/cuemby/medallion/internal/source/http"
	sqlsrc "github.com/cuemby/medallion/internal/source/sql"
	"github.com/cuemby/medallion/internal/storage"
)

// StaleLeaseAfter is the age past which a partition's write lease is
// treated as abandoned and may be taken over by a later run, and the
// default age past which Sweep removes an orphaned staging directory.
const StaleLeaseAfter = 2 * time.Hour

// Result summarizes a completed Bronze run.
type Result struct {
	PartitionPath string
	RecordCount   int64
	ChunkCount    int
	Cursor        string
}

// AdapterFactory builds the source.Adapter a config names. Registered
// per SourceType so custom adapters can be wired in by callers of this
// package without bronze importing them directly.
type AdapterFactory func(spec config.SourceSpec, resil config.ResilienceSpec) (source.Adapter, error)

// Runner executes the Bronze orchestration sequence against one
// storage backend.
type Runner struct {
	Backend  storage.Backend
	Hooks    *hooks.Surface
	Breakers *resilience.BreakerRegistry

	// CustomAdapters resolves SourceCustom tags; nil entries fail the run.
	CustomAdapters map[string]AdapterFactory
}

// NewRunner builds a Runner with a fresh breaker registry that trips
// after 5 consecutive failures and cools down for 30s. The breaker
// fields of a config's resilience spec are not consulted.
func NewRunner(backend storage.Backend, hookSurface *hooks.Surface) *Runner {
	return &Runner{
		Backend:        backend,
		Hooks:          hookSurface,
		Breakers:       resilience.NewBreakerRegistry(5, 30*time.Second),
		CustomAdapters: make(map[string]AdapterFactory),
	}
}

// Run executes one Bronze extraction: policy gate, lease, extract,
// chunk, manifest, atomic commit (§4.7 steps 1-9).
func (r *Runner) Run(ctx context.Context, cfg config.Config, runID string) (*Result, error) {
	start := time.Now()
	r.Hooks.Emit(ctx, hooks.Event{Type: hooks.EventRunStarted, RunID: runID})

	result, err := r.run(ctx, cfg, runID)
	if err != nil {
		f := resilience.AsFailure(err)
		r.Hooks.Emit(ctx, hooks.Event{
			Type:           hooks.EventRunFailed,
			RunID:          runID,
			FailureKind:    string(f.Kind),
			FailureMessage: f.Error(),
		})
		metrics.RunsTotal.WithLabelValues("bronze", "failed").Inc()
		return nil, err
	}

	metrics.RunsTotal.WithLabelValues("bronze", "success").Inc()
	metrics.RunDuration.WithLabelValues("bronze").Observe(time.Since(start).Seconds())
	r.Hooks.Emit(ctx, hooks.Event{Type: hooks.EventRunCompleted, RunID: runID})
	return result, nil
}

func (r *Runner) run(ctx context.Context, cfg config.Config, runID string) (*Result, error) {
	// 1. Policy gate.
	if err := policy.Check(cfg); err != nil {
		return nil, resilience.NewFailure(resilience.KindPermanent, err)
	}

	// 2. Plan partition path.
	partitionDir, err := partition.BronzePath(cfg.Storage.Prefix, cfg.System, cfg.Entity, cfg.LoadPattern, cfg.RunDate)
	if err != nil {
		return nil, resilience.NewFailure(resilience.KindPermanent, err)
	}
	stagingDir := partitionDir[:len(partitionDir)-1] + ".staging-" + runID

	// 3. Acquire write lease. The lock itself lives in a host-local
	// directory keyed off the partition path, not inside the storage
	// backend, since flock needs a real filesystem and some backends
	// (object stores) have none.
	ls, err := lease.Acquire(ctx, localLeasePath(partitionDir), runID, StaleLeaseAfter)
	if err != nil {
		return nil, resilience.NewFailure(resilience.KindPermanent, err)
	}
	defer ls.Release()
	commitTimer := metrics.NewTimer()

	// 4. Build the shared resilience substrate, then the source adapter
	// (the adapter needs the limiter/breaker so its own per-request loop
	// can share them, not just the wrapper below).
	rateRPS, rateBurst := cfg.Output.RateLimitRPS, cfg.Output.RateLimitBurst
	if rateRPS == 0 && rateBurst == 0 {
		rateRPS, rateBurst = config.DefaultRateLimit()
	}
	limiter := resilience.NewLimiter(rateRPS, rateBurst)
	retry := resilience.NewRetryPolicy(cfg.Resilience)
	breaker := r.Breakers.Get(resilience.BreakerKey{Backend: string(r.Backend.Kind()), Source: string(cfg.Source.Type)})

	adapter, err := r.buildAdapter(cfg, limiter, breaker)
	if err != nil {
		return nil, resilience.NewFailure(resilience.KindConfig, err)
	}

	priorCursor := r.loadPriorCursor(ctx, partitionDir)

	pipelog.WithRunID(runID).Info().Str("partition", partitionDir).Msg("bronze run starting")

	items, err := extractThroughResilience(ctx, adapter, priorCursor, limiter, retry, breaker, string(cfg.Source.Type))
	if err != nil {
		return nil, err
	}

	schema := model.NewSchema()
	var recordCount int64

	formats := cfg.Output.Formats
	if len(formats) == 0 {
		formats = []config.OutputFormat{config.FormatColumnar}
	}
	limits := chunkio.Limits{MaxRows: cfg.Output.MaxRowsPerChunk, MaxBytes: cfg.Output.MaxBytesPerChunk}

	cp := newChunkPool(ctx, r.Backend, stagingDir, cfg.Output.ParallelWorkers, cfg.Output.ChunkParallel)
	writer := chunkio.NewWriter(formats, limits, "part", cp.sink)

	for item := range items {
		if item.Err != nil {
			cp.wait()
			return nil, resilience.AsFailure(item.Err)
		}
		schema.Observe(item.Record)
		if err := writer.WriteRecord(item.Record); err != nil {
			cp.wait()
			return nil, resilience.NewFailure(resilience.KindInternal, err)
		}
		recordCount++
	}
	if err := writer.Close(); err != nil {
		cp.wait()
		return nil, resilience.NewFailure(resilience.KindInternal, err)
	}
	if err := cp.wait(); err != nil {
		return nil, resilience.NewFailure(resilience.KindInternal, err)
	}
	chunks, chunkInfos, chunkBytesTotal := cp.results()

	metrics.RowsWrittenTotal.WithLabelValues("bronze", cfg.Entity).Add(float64(recordCount))

	cursor := adapter.Cursor()
	meta := &manifest.Metadata{
		RunID:           runID,
		System:          cfg.System,
		Entity:          cfg.Entity,
		RunDate:         cfg.RunDate,
		LoadPattern:     string(cfg.LoadPattern),
		PartitionKey:    partitionDir,
		WrittenAt:       time.Now().UTC(),
		RecordCount:     recordCount,
		ChunkCount:      len(chunkInfos),
		ChunkBytesTotal: chunkBytesTotal,
		FormatList:      formatStrings(formats),
		Chunks:          chunkInfos,
		Schema:          schema.Columns(),
		Cursor:          &cursor,
	}

	if err := r.writeManifests(ctx, stagingDir, meta, chunks); err != nil {
		return nil, resilience.NewFailure(resilience.KindInternal, err)
	}

	// 9. Atomic commit: replace the old partition with the staged one.
	if err := r.commit(ctx, stagingDir, partitionDir); err != nil {
		return nil, resilience.NewFailure(resilience.KindInternal, err)
	}
	commitTimer.ObserveDurationVec(metrics.PartitionCommitDuration, "bronze", cfg.Entity)
	metrics.PartitionsWrittenTotal.WithLabelValues("bronze", cfg.Entity).Inc()

	r.Hooks.Emit(ctx, hooks.Event{
		Type:        hooks.EventPartitionWritten,
		RunID:       runID,
		Path:        partitionDir,
		RecordCount: recordCount,
		ChunkCount:  len(chunkInfos),
		Bytes:       chunkBytesTotal,
	})
	r.Hooks.Emit(ctx, hooks.Event{
		Type:    hooks.EventSchemaSnapshot,
		RunID:   runID,
		Path:    partitionDir,
		Columns: columnNames(meta.Schema),
	})

	return &Result{
		PartitionPath: partitionDir,
		RecordCount:   recordCount,
		ChunkCount:    len(chunkInfos),
		Cursor:        cursor,
	}, nil
}

func formatStrings(formats []config.OutputFormat) []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = string(f)
	}
	return out
}

func columnNames(cols []model.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// writeManifests persists metadata.json and checksums.json into the
// staging directory (§4.5: manifests written before commit).
func (r *Runner) writeManifests(ctx context.Context, stagingDir string, meta *manifest.Metadata, checksums *manifest.Checksums) error {
	metaBytes, err := manifest.MarshalMetadata(meta)
	if err != nil {
		return err
	}
	if err := r.Backend.Put(ctx, stagingDir+"/"+manifest.MetadataFile, newBytesReader(metaBytes), int64(len(metaBytes))); err != nil {
		return err
	}
	sumBytes, err := manifest.MarshalChecksums(checksums)
	if err != nil {
		return err
	}
	return r.Backend.Put(ctx, stagingDir+"/"+manifest.ChecksumsFile, newBytesReader(sumBytes), int64(len(sumBytes)))
}

// commit replaces partitionDir with the contents of stagingDir. On a
// backend with atomic rename this is one operation; otherwise the
// manifests-written-last ordering above already makes the commit safe
// to observe mid-copy (§5).
func (r *Runner) commit(ctx context.Context, stagingDir, partitionDir string) error {
	if err := r.Backend.DeletePrefix(ctx, partitionDir); err != nil {
		return err
	}
	return r.Backend.Rename(ctx, stagingDir, partitionDir)
}

// loadPriorCursor reads the cursor field out of a previously committed
// partition's metadata.json, returning "" if absent, missing, or
// corrupt (§4.7 step 3, §5.3.2: corrupt prior metadata is not fatal,
// the adapter falls back to its documented default).
func (r *Runner) loadPriorCursor(ctx context.Context, partitionDir string) string {
	rc, err := r.Backend.Get(ctx, partitionDir+"/"+manifest.MetadataFile)
	if err != nil {
		return ""
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return ""
	}
	m, err := manifest.UnmarshalMetadata(data)
	if err != nil {
		pipelog.Logger.Warn().Str("partition", partitionDir).Msg("prior metadata corrupt, starting from default cursor")
		return ""
	}
	if m.Cursor == nil {
		return ""
	}
	return *m.Cursor
}

func (r *Runner) buildAdapter(cfg config.Config, limiter *resilience.Limiter, breaker *resilience.Breaker) (source.Adapter, error) {
	switch cfg.Source.Type {
	case config.SourceHTTP:
		if cfg.Source.HTTP == nil {
			return nil, fmt.Errorf("bronze: source.http is required")
		}
		return httpsrc.New(*cfg.Source.HTTP, cfg.Resilience, limiter, breaker), nil
	case config.SourceSQL:
		if cfg.Source.SQL == nil {
			return nil, fmt.Errorf("bronze: source.sql is required")
		}
		connString := os.Getenv(cfg.Source.SQL.ConnRef)
		return sqlsrc.Open(*cfg.Source.SQL, connString)
	case config.SourceFile:
		if cfg.Source.File == nil {
			return nil, fmt.Errorf("bronze: source.file is required")
		}
		return filesrc.New(*cfg.Source.File), nil
	case config.SourceCustom:
		factory, ok := r.CustomAdapters[cfg.Source.CustomTag]
		if !ok {
			return nil, fmt.Errorf("bronze: no adapter registered for custom_tag %q", cfg.Source.CustomTag)
		}
		return factory(cfg.Source, cfg.Resilience)
	default:
		return nil, fmt.Errorf("bronze: unknown source type %q", cfg.Source.Type)
	}
}

// extractThroughResilience drives the adapter's Extract stream through
// the breaker-then-retry composition of §4.2 on the initial call; once
// streaming begins, individual item errors surface to the caller
// directly since a mid-stream retry would replay already-yielded rows.
func extractThroughResilience(ctx context.Context, adapter source.Adapter, cursor string, limiter *resilience.Limiter, retry *resilience.RetryPolicy, breaker *resilience.Breaker, sourceType string) (<-chan source.Item, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, resilience.NewFailure(resilience.KindCancelled, err)
	}

	var out <-chan source.Item
	err := breaker.Do(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, func(ctx context.Context, attempt int) error {
			if attempt > 1 {
				metrics.RetriesTotal.WithLabelValues(sourceType, "attempt").Inc()
			}
			ch, err := adapter.Extract(ctx, cursor)
			if err != nil {
				return err
			}
			out = ch
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// localLeasePath maps a partition path to a stable host-local directory
// under the OS temp dir, used only to hold the advisory flock file for
// that partition's write lease.
func localLeasePath(partitionDir string) string {
	sum := sha256.Sum256([]byte(partitionDir))
	return filepath.Join(os.TempDir(), "medallion-leases", hex.EncodeToString(sum[:]))
}

type bytesReader struct {
	data []byte
	pos  int
}

func newBytesReader(data []byte) io.Reader { return &bytesReader{data: data} }

func (b *bytesReader) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}
