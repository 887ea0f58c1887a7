// Package silver implements the C8 Silver promotion engine: it reads a
// committed Bronze partition, dispatches to the model handler named by
// silver_spec.model_choice (or derived from entity_kind/history_mode/
// input_mode per §4.8's table), and writes curated, checksummed,
// atomically-committed artifacts.
package silver

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/medallion/internal/chunkio"
	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/hooks"
	"github.com/cuemby/medallion/internal/manifest"
	"github.com/cuemby/medallion/internal/metrics"
	"github.com/cuemby/medallion/internal/partition"
	"github.com/cuemby/medallion/internal/pipelog"
	"github.com/cuemby/medallion/internal/policy"
	"github.com/cuemby/medallion/internal/resilience"
	"github.com/cuemby/medallion/internal/storage"
)

// Result summarizes a completed Silver run.
type Result struct {
	PartitionPaths []string
	RecordCount    int64
	BadRowCount    int64
	AppliedModel   string
	BronzePath     string
}

// Engine executes the Silver orchestration sequence against one
// storage backend.
type Engine struct {
	Backend storage.Backend
	Hooks   *hooks.Surface
}

// NewEngine builds an Engine over backend, with hookSurface receiving
// lifecycle events (C10).
func NewEngine(backend storage.Backend, hookSurface *hooks.Surface) *Engine {
	return &Engine{Backend: backend, Hooks: hookSurface}
}

// runContext threads the identifying coordinates of one Silver run
// through every model handler.
type runContext struct {
	ctx        context.Context
	cfg        config.Config
	spec       config.SilverSpec
	runID      string
	backend    storage.Backend
	bronze     *BronzeInput
	quarantine *quarantine
	formats    []config.OutputFormat
	limits     chunkio.Limits
}

// Run executes one Silver promotion: open+verify the Bronze input,
// dispatch to the resolved model handler, commit every output artifact.
func (e *Engine) Run(ctx context.Context, cfg config.Config, runID string) (*Result, error) {
	start := time.Now()
	e.Hooks.Emit(ctx, hooks.Event{Type: hooks.EventRunStarted, RunID: runID})

	result, err := e.run(ctx, cfg, runID)
	if err != nil {
		f := resilience.AsFailure(err)
		e.Hooks.Emit(ctx, hooks.Event{
			Type:           hooks.EventRunFailed,
			RunID:          runID,
			FailureKind:    string(f.Kind),
			FailureMessage: f.Error(),
		})
		metrics.RunsTotal.WithLabelValues("silver", "failed").Inc()
		return nil, err
	}

	metrics.RunsTotal.WithLabelValues("silver", "success").Inc()
	metrics.RunDuration.WithLabelValues("silver").Observe(time.Since(start).Seconds())
	e.Hooks.Emit(ctx, hooks.Event{Type: hooks.EventRunCompleted, RunID: runID})
	return result, nil
}

func (e *Engine) run(ctx context.Context, cfg config.Config, runID string) (*Result, error) {
	if err := policy.Check(cfg); err != nil {
		return nil, resilience.NewFailure(resilience.KindConfig, err)
	}
	if cfg.Silver == nil {
		return nil, resilience.NewFailure(resilience.KindConfig, fmt.Errorf("silver: config has no silver_spec"))
	}
	spec := *cfg.Silver

	bronzePath, err := partition.BronzePath(cfg.Storage.Prefix, cfg.System, cfg.Entity, cfg.LoadPattern, cfg.RunDate)
	if err != nil {
		return nil, resilience.NewFailure(resilience.KindConfig, err)
	}

	bronze, err := OpenBronzePartition(ctx, e.Backend, bronzePath)
	if err != nil {
		return nil, err
	}

	model := spec.ResolvedModel()
	pipelog.WithRunID(runID).Info().
		Str("bronze_partition", bronzePath).
		Str("model", string(model)).
		Msg("silver run starting")

	domain := spec.Domain
	if domain == "" {
		domain = cfg.System
	}
	version := spec.Version
	if version == 0 {
		version = 1
	}
	silverBase, err := partition.SilverPath(cfg.Storage.Prefix, domain, cfg.Entity, version, cfg.RunDate, nil, nil)
	if err != nil {
		return nil, resilience.NewFailure(resilience.KindConfig, err)
	}

	formats := cfg.Output.Formats
	if len(formats) == 0 {
		formats = []config.OutputFormat{config.FormatColumnar}
	}
	limits := chunkio.Limits{MaxRows: cfg.Output.MaxRowsPerChunk, MaxBytes: cfg.Output.MaxBytesPerChunk}

	errorsWriter := newPartitionWriter(ctx, e.Backend, silverBase+"_errors/", runID, formats, limits)
	q := newQuarantine(ctx, errorsWriter, spec.ErrorHandling, bronze.Metadata.RecordCount, cfg.Entity)

	rc := &runContext{
		ctx:        ctx,
		cfg:        cfg,
		spec:       spec,
		runID:      runID,
		backend:    e.Backend,
		bronze:     bronze,
		quarantine: q,
		formats:    formats,
		limits:     limits,
	}

	var paths []string
	var recordCount int64
	runErr := func() error {
		switch model {
		case config.ModelPeriodicSnapshot:
			group := newPartitionGroup(silverBase, spec.PartitionBy, runID, formats, limits)
			if err := runSnapshot(rc, group); err != nil {
				group.AbortAll(ctx)
				return err
			}
			p, n, err := commitGroup(ctx, rc, group, bronzePath)
			if err != nil {
				return err
			}
			paths, recordCount = p, n
			return nil
		case config.ModelFullMergeDedupe, config.ModelSCDType1:
			group := newPartitionGroup(silverBase, spec.PartitionBy, runID, formats, limits)
			if err := runDedupe(rc, group); err != nil {
				group.AbortAll(ctx)
				return err
			}
			p, n, err := commitGroup(ctx, rc, group, bronzePath)
			if err != nil {
				return err
			}
			paths, recordCount = p, n
			return nil
		case config.ModelSCDType2:
			currentGroup := newPartitionGroup(silverBase+"current/", spec.PartitionBy, runID, formats, limits)
			historyGroup := newPartitionGroup(silverBase+"history/", spec.PartitionBy, runID, formats, limits)
			if err := runSCD2(rc, currentGroup, historyGroup); err != nil {
				currentGroup.AbortAll(ctx)
				historyGroup.AbortAll(ctx)
				return err
			}
			cp, cn, err := commitGroup(ctx, rc, currentGroup, bronzePath)
			if err != nil {
				return err
			}
			hp, hn, err := commitGroup(ctx, rc, historyGroup, bronzePath)
			if err != nil {
				return err
			}
			paths = append(cp, hp...)
			recordCount = cn + hn
			return nil
		case config.ModelIncrementalMerge:
			group := newPartitionGroup(silverBase, spec.PartitionBy, runID, formats, limits)
			if err := runIncremental(rc, group); err != nil {
				group.AbortAll(ctx)
				return err
			}
			p, n, err := commitGroup(ctx, rc, group, bronzePath)
			if err != nil {
				return err
			}
			paths, recordCount = p, n
			return nil
		default:
			return resilience.NewFailure(resilience.KindConfig, fmt.Errorf("silver: unknown model %q", model))
		}
	}()

	if runErr != nil {
		errorsWriter.Abort(ctx)
		return nil, runErr
	}

	if err := q.Commit(ctx, runID, baseMetadata(cfg, runID, bronzePath, string(model))); err != nil {
		return nil, resilience.NewFailure(resilience.KindInternal, err)
	}
	if q.BadCount() > 0 {
		paths = append(paths, silverBase+"_errors/")
	}

	for _, p := range paths {
		e.Hooks.Emit(ctx, hooks.Event{Type: hooks.EventPartitionWritten, RunID: runID, Path: p})
	}

	return &Result{
		PartitionPaths: paths,
		RecordCount:    recordCount,
		BadRowCount:    q.BadCount(),
		AppliedModel:   string(model),
		BronzePath:     bronzePath,
	}, nil
}

// commitGroup finalizes every leaf partition in group and reports the
// leaf paths plus total rows written.
func commitGroup(ctx context.Context, rc *runContext, group *partitionGroup, bronzePath string) ([]string, int64, error) {
	model := rc.spec.ResolvedModel()
	paths, total, err := group.CommitAll(ctx, func(leaf string) *manifest.Metadata {
		return baseMetadata(rc.cfg, rc.runID, bronzePath, string(model))
	})
	if err != nil {
		return nil, 0, resilience.NewFailure(resilience.KindInternal, err)
	}
	return paths, total, nil
}

// baseMetadata builds the identity fields shared by every leaf
// partition's manifest; partitionWriter.Commit fills in the
// record/chunk counters once the leaf's chunks are known.
func baseMetadata(cfg config.Config, runID, bronzePath, model string) *manifest.Metadata {
	return &manifest.Metadata{
		RunID:              runID,
		System:             cfg.System,
		Entity:             cfg.Entity,
		RunDate:            cfg.RunDate,
		LoadPattern:        string(cfg.LoadPattern),
		Domain:             cfg.Silver.Domain,
		AppliedModel:       model,
		BronzePartitionRef: bronzePath,
	}
}
