package silver

import (
	"sort"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/model"
)

// scd2Row is one emitted history/current row before normalization.
type scd2Row struct {
	attrs        model.Record
	effectiveFrom any
	effectiveTo   any
	isCurrent    bool
}

func (r *scd2Row) toRecord() model.Record {
	out := r.attrs.Clone()
	out["effective_from"] = r.effectiveFrom
	out["effective_to"] = r.effectiveTo
	out["is_current"] = r.isCurrent
	return out
}

// recordTimestamp picks the column this key-group's versions are
// ordered by: event_ts_column for CDC-derived input, falling back to
// an existing effective_from (current_history snapshots already carry
// their own interval starts), then change_ts_column.
func recordTimestamp(r model.Record, spec config.SilverSpec) any {
	if spec.EventTSColumn != "" {
		if v, ok := r[spec.EventTSColumn]; ok {
			return v
		}
	}
	if v, ok := r["effective_from"]; ok {
		return v
	}
	if spec.ChangeTSColumn != "" {
		if v, ok := r[spec.ChangeTSColumn]; ok {
			return v
		}
	}
	return nil
}

// runSCD2 implements scd_type_2 (§4.8): per natural key, chains
// successive versions into disjoint, chronologically contiguous
// intervals. The latest surviving version is open (effective_to=nil,
// is_current=true) and is the only row written to the current
// artifact; every version (open or closed) is written to history.
// Delete markers close the current interval without reopening one
// under tombstone_state/tombstone_event, and are treated as an
// ordinary attribute update under ignore (§9 Open Question: no
// synthetic closing row is fabricated for a key that simply stops
// appearing).
func runSCD2(rc *runContext, currentGroup, historyGroup *partitionGroup) error {
	k := runCount(rc.spec.Partitioning)
	part, err := newKeyPartitioner(k)
	if err != nil {
		return err
	}
	defer part.close()

	for item := range rc.bronze.Records(rc.ctx) {
		if item.Err != nil {
			return item.Err
		}
		if bad, reason := IsBadRow(item.Record, rc.spec); bad {
			if err := rc.quarantine.Reject(rc.ctx, item.Record, reason); err != nil {
				return err
			}
			continue
		}
		key, _ := NaturalKey(item.Record, rc.spec.NaturalKeys)
		if err := part.add(item.Record, key); err != nil {
			return err
		}
	}
	if err := part.seal(); err != nil {
		return err
	}

	for _, run := range part.runs {
		groups, err := groupByKey(run, rc.spec.NaturalKeys)
		if err != nil {
			return err
		}
		for _, members := range groups {
			sort.SliceStable(members, func(i, j int) bool {
				return compareOrderable(recordTimestamp(members[i], rc.spec), recordTimestamp(members[j], rc.spec)) < 0
			})

			history, current := buildIntervals(members, rc.spec)

			for _, row := range history {
				out, err := Normalize(row.toRecord(), rc.spec)
				if err != nil {
					return err
				}
				w, err := historyGroup.writerFor(rc.ctx, rc.backend, out)
				if err != nil {
					return err
				}
				if err := w.WriteRecord(out); err != nil {
					return err
				}
			}
			if current != nil {
				out, err := Normalize(current.toRecord(), rc.spec)
				if err != nil {
					return err
				}
				w, err := currentGroup.writerFor(rc.ctx, rc.backend, out)
				if err != nil {
					return err
				}
				if err := w.WriteRecord(out); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// buildIntervals chains one key's chronologically sorted versions into
// history rows plus, if the chain ends open, the current row.
func buildIntervals(members []model.Record, spec config.SilverSpec) (history []*scd2Row, current *scd2Row) {
	var open *scd2Row
	for _, rec := range members {
		ts := recordTimestamp(rec, spec)
		isDelete := IsDeleteMarker(rec)

		if open != nil {
			open.effectiveTo = ts
			open.isCurrent = false
			open = nil
		}

		if isDelete {
			switch spec.DeleteMode {
			case config.DeleteTombstoneState:
				continue
			case config.DeleteTombstoneEvent:
				history = append(history, &scd2Row{
					attrs:         rec,
					effectiveFrom: ts,
					effectiveTo:   ts,
					isCurrent:     false,
				})
				continue
			case config.DeleteIgnore:
				// fall through: treated as a normal attribute version.
			}
		}

		row := &scd2Row{attrs: rec, effectiveFrom: ts, effectiveTo: nil, isCurrent: true}
		history = append(history, row)
		open = row
	}
	if open != nil {
		current = open
	}
	return history, current
}
