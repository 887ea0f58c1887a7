// External-sort support for the Silver engine's full-pass models
// (full_merge_dedupe, scd_type_1, scd_type_2): §4.8 requires the engine
// never materialize a whole Bronze partition in memory. Records are
// hash-partitioned by natural key into K disk-backed runs; each run is
// loaded, grouped, and processed in memory independently of every other
// run.
package silver

import (
	"bufio"
	"encoding/json"
	"hash/fnv"
	"os"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/model"
)

// defaultRunCount is used when silver_spec.partitioning omits an
// explicit external_sort_runs override: a fixed fan-out that does not
// depend on the partition's total size.
const defaultRunCount = 16

// runCount returns external_sort_runs when set and defaultRunCount
// otherwise. memory_budget_bytes is not consulted, so the size of a run
// is not bounded by a memory budget.
func runCount(spec config.PartitioningSpec) int {
	if spec.ExternalSortRuns > 0 {
		return spec.ExternalSortRuns
	}
	return defaultRunCount
}

// bucketOf hashes key into one of n buckets.
func bucketOf(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// spillRun is one disk-backed partition of the external sort: a
// temp file of newline-delimited JSON records plus a buffered writer
// while it is being filled.
type spillRun struct {
	file *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

func newSpillRun() (*spillRun, error) {
	f, err := os.CreateTemp("", "medallion-silver-run-*.jsonl")
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	return &spillRun{file: f, w: w, enc: json.NewEncoder(w)}, nil
}

func (s *spillRun) write(r model.Record) error {
	return s.enc.Encode(map[string]any(r))
}

// seal flushes the writer and rewinds the file for reading.
func (s *spillRun) seal() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	_, err := s.file.Seek(0, 0)
	return err
}

// load reads every record back into memory. Called once per run after
// the partitioning pass completes, so only one run's worth of records
// (not the whole Bronze partition) is ever resident at a time.
func (s *spillRun) load() ([]model.Record, error) {
	dec := json.NewDecoder(s.file)
	var out []model.Record
	for dec.More() {
		var rec model.Record
		if err := dec.Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *spillRun) close() error {
	path := s.file.Name()
	cerr := s.file.Close()
	rerr := os.Remove(path)
	if cerr != nil {
		return cerr
	}
	return rerr
}

// keyPartitioner fans incoming records out to K spill runs by a hash of
// their natural key, per §4.8's external-sort strategy.
type keyPartitioner struct {
	runs []*spillRun
}

func newKeyPartitioner(k int) (*keyPartitioner, error) {
	runs := make([]*spillRun, k)
	for i := range runs {
		r, err := newSpillRun()
		if err != nil {
			for j := 0; j < i; j++ {
				runs[j].close()
			}
			return nil, err
		}
		runs[i] = r
	}
	return &keyPartitioner{runs: runs}, nil
}

func (p *keyPartitioner) add(r model.Record, key string) error {
	idx := bucketOf(key, len(p.runs))
	return p.runs[idx].write(r)
}

// seal finalizes every run for reading.
func (p *keyPartitioner) seal() error {
	for _, r := range p.runs {
		if err := r.seal(); err != nil {
			return err
		}
	}
	return nil
}

func (p *keyPartitioner) close() {
	for _, r := range p.runs {
		r.close()
	}
}

// groupByKey loads one run and groups its records by natural key,
// preserving within-group arrival order (needed by SCD2's chronological
// chain-building and by the dedupe tie-break's stable-order guarantee).
func groupByKey(run *spillRun, naturalKeys []string) (map[string][]model.Record, error) {
	records, err := run.load()
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]model.Record)
	for _, r := range records {
		key, ok := NaturalKey(r, naturalKeys)
		if !ok {
			continue // bad rows are filtered before partitioning; defensive only.
		}
		groups[key] = append(groups[key], r)
	}
	return groups, nil
}
