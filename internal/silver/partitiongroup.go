package silver

import (
	"context"
	"fmt"

	"github.com/cuemby/medallion/internal/chunkio"
	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/manifest"
	"github.com/cuemby/medallion/internal/partition"
	"github.com/cuemby/medallion/internal/storage"
)

// partitionGroup fans a model handler's output across the secondary
// partition columns declared in silver_spec.partition_by (§4.8
// "Partitioning"): each distinct combination of partition_by values
// gets its own leaf directory under the load-date partition, committed
// independently via the atomic writer protocol.
type partitionGroup struct {
	base          string
	secondaryCols []string
	runID         string
	formats       []config.OutputFormat
	limits        chunkio.Limits

	writers map[string]*partitionWriter
	leaves  map[string]string
}

func newPartitionGroup(base string, secondaryCols []string, runID string, formats []config.OutputFormat, limits chunkio.Limits) *partitionGroup {
	return &partitionGroup{
		base:          base,
		secondaryCols: secondaryCols,
		runID:         runID,
		formats:       formats,
		limits:        limits,
		writers:       make(map[string]*partitionWriter),
		leaves:        make(map[string]string),
	}
}

// writerFor returns the partitionWriter for r's combination of
// partition_by values, creating one on first use.
func (g *partitionGroup) writerFor(ctx context.Context, backend storage.Backend, r map[string]any) (*partitionWriter, error) {
	leaf, key, err := leafFor(g.base, g.secondaryCols, r)
	if err != nil {
		return nil, err
	}
	if w, ok := g.writers[key]; ok {
		return w, nil
	}
	w := newPartitionWriter(ctx, backend, leaf, g.runID, g.formats, g.limits)
	g.writers[key] = w
	g.leaves[key] = leaf
	return w, nil
}

func leafFor(base string, secondaryCols []string, r map[string]any) (leaf, key string, err error) {
	leaf = base
	key = ""
	for _, col := range secondaryCols {
		v, ok := r[col]
		if !ok || v == nil {
			return "", "", fmt.Errorf("silver: partition_by column %q missing from output record", col)
		}
		nk, err := partition.NormalizeIdentifier("partition_by."+col, col)
		if err != nil {
			return "", "", err
		}
		nv, err := partition.NormalizeIdentifier("partition_by."+col+".value", fmt.Sprintf("%v", v))
		if err != nil {
			return "", "", err
		}
		leaf = leaf + nk + "=" + nv + "/"
		key = key + nk + "=" + nv + "/"
	}
	return leaf, key, nil
}

// CommitAll finalizes every leaf partition written to, using factory to
// build a fresh manifest.Metadata per leaf (identity fields already
// set; record/chunk counters are filled in by Commit).
func (g *partitionGroup) CommitAll(ctx context.Context, factory func(leaf string) *manifest.Metadata) ([]string, int64, error) {
	var paths []string
	var total int64
	for key, w := range g.writers {
		leaf := g.leaves[key]
		if err := w.Commit(ctx, factory(leaf)); err != nil {
			return nil, 0, err
		}
		paths = append(paths, leaf)
		total += w.RowCount()
	}
	return paths, total, nil
}

// AbortAll tears down every leaf's staging directory after a failed run.
func (g *partitionGroup) AbortAll(ctx context.Context) {
	for _, w := range g.writers {
		w.Abort(ctx)
	}
}
