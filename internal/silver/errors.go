package silver

import (
	"context"
	"fmt"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/manifest"
	"github.com/cuemby/medallion/internal/metrics"
	"github.com/cuemby/medallion/internal/model"
	"github.com/cuemby/medallion/internal/resilience"
)

// quarantine routes bad rows to the "_errors/" sidecar partition and
// enforces the absolute/percentage bad-row thresholds of §4.8. When
// error_handling is disabled, the first bad row fails the run instead.
type quarantine struct {
	spec       config.ErrorHandlingSpec
	totalRows  int64
	entity     string
	writer     *partitionWriter
	badCount   int64
}

func newQuarantine(ctx context.Context, pw *partitionWriter, spec config.ErrorHandlingSpec, totalRows int64, entity string) *quarantine {
	return &quarantine{spec: spec, totalRows: totalRows, entity: entity, writer: pw}
}

// Reject records one bad row and reports whether the run must now fail
// with data_quality.
func (q *quarantine) Reject(ctx context.Context, r model.Record, reason string) error {
	q.badCount++
	metrics.BadRowsTotal.WithLabelValues(q.entity, reason).Inc()

	if !q.spec.Enabled {
		return resilience.NewFailure(resilience.KindDataQuality, fmt.Errorf("silver: bad row (%s) with error_handling disabled", reason))
	}
	if err := q.writer.WriteRecord(r); err != nil {
		return resilience.NewFailure(resilience.KindInternal, err)
	}
	if q.exceeds() {
		return resilience.NewFailure(resilience.KindDataQuality, fmt.Errorf(
			"silver: bad row count %d exceeds threshold (max_records=%d, max_percent=%.4f of %d total)",
			q.badCount, q.spec.MaxBadRecords, q.spec.MaxBadPercent, q.totalRows))
	}
	return nil
}

func (q *quarantine) exceeds() bool {
	if q.spec.MaxBadRecords > 0 && q.badCount > q.spec.MaxBadRecords {
		return true
	}
	if q.spec.MaxBadPercent > 0 && q.totalRows > 0 {
		pct := float64(q.badCount) / float64(q.totalRows) * 100
		if pct > q.spec.MaxBadPercent {
			return true
		}
	}
	return false
}

// Commit finalizes the errors partition. It returns without writing
// anything when no bad row was routed there, so a run with zero bad rows
// leaves no empty _errors/ partition.
func (q *quarantine) Commit(ctx context.Context, runID string, meta *manifest.Metadata) error {
	if q.badCount == 0 {
		return nil
	}
	return q.writer.Commit(ctx, meta)
}

// BadCount reports how many rows were quarantined.
func (q *quarantine) BadCount() int64 { return q.badCount }
