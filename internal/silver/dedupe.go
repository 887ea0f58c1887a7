package silver

// runDedupe implements both full_merge_dedupe and scd_type_1 (§4.8):
// they share the same collapse rule — one row per natural key, keeping
// the maximum of order_column with the §9 tie-break chain. The engine
// hash-partitions the Bronze stream into K disk-backed runs by natural
// key so a run never needs the whole partition resident to group by
// key.
func runDedupe(rc *runContext, group *partitionGroup) error {
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
			winner := members[WinnerOf(members, rc.spec)]
			out, err := Normalize(winner, rc.spec)
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
	}
	return nil
}
