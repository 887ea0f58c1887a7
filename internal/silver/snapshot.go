package silver

// periodic_snapshot (§4.8): exact passthrough of a full Bronze snapshot
// with metadata annotations. No dedupe, no key grouping — every good
// row streams straight through to its output partition, so the engine
// never materializes more than one record at a time for this model.
func runSnapshot(rc *runContext, group *partitionGroup) error {
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
		out, err := Normalize(item.Record, rc.spec)
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
	return nil
}
