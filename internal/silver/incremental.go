package silver

// incremental_merge (§4.8): CDC deltas pass through unchanged except for
// a global reordering. Unlike the dedupe/SCD2 models there is no
// natural-key grouping or collapse — every good row survives, in
// event_ts_column order with ties broken by the record's original
// position in the Bronze stream (§9). The engine streams the whole
// partition through externalSort's k-way merge rather than sorting in
// memory, so partitions larger than the configured run budget never
// need to be fully resident.
func runIncremental(rc *runContext, group *partitionGroup) error {
	k := runCount(rc.spec.Partitioning)

	in := make(chan orderedRecord, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(in)
		var pos int64
		for item := range rc.bronze.Records(rc.ctx) {
			if item.Err != nil {
				errCh <- item.Err
				return
			}
			if bad, reason := IsBadRow(item.Record, rc.spec); bad {
				if err := rc.quarantine.Reject(rc.ctx, item.Record, reason); err != nil {
					errCh <- err
					return
				}
				continue
			}
			in <- orderedRecord{Record: item.Record, Position: pos}
			pos++
		}
		errCh <- nil
	}()

	sorted, err := externalSort(in, k, rc.spec.EventTSColumn)
	if err != nil {
		return err
	}

	for rec := range sorted {
		out, err := Normalize(rec, rc.spec)
		if err != nil {
			return err
		}
		w, err := group.writerFor(rc.ctx, rc.backend, out)
		if err != nil {
			return err
		}
		if err := w.WriteRecord(out); err != nil {
			return err
		}
	}

	if err := <-errCh; err != nil {
		return err
	}
	return nil
}
