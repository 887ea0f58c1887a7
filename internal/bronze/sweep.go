package bronze

import (
	"context"
	"strings"
	"time"

	"github.com/cuemby/medallion/internal/pipelog"
	"github.com/cuemby/medallion/internal/storage"
)

// stagingMarker is the path fragment every staging directory carries
// (see writer construction in this package and in internal/silver):
// partitionDir with its trailing slash replaced by ".staging-"+runID.
const stagingMarker = ".staging-"

// Sweep scans everything under root for orphaned staging directories —
// ones whose newest object is older than staleAfter — and removes them.
// This is the maintenance pass §4.7 step 2's staleness language assumes
// a later run performs; nothing else in the pipeline reclaims a staging
// directory abandoned by a crashed run.
func Sweep(ctx context.Context, backend storage.Backend, root string, staleAfter time.Duration) (int, error) {
	objects, err := backend.List(ctx, root)
	if err != nil {
		return 0, err
	}

	newest := make(map[string]time.Time)
	for _, obj := range objects {
		dir, ok := stagingDirOf(obj.Key)
		if !ok {
			continue
		}
		if t, ok := newest[dir]; !ok || obj.ModTime.After(t) {
			newest[dir] = obj.ModTime
		}
	}

	cutoff := time.Now().Add(-staleAfter)
	removed := 0
	for dir, modTime := range newest {
		if modTime.After(cutoff) {
			continue
		}
		if err := backend.DeletePrefix(ctx, dir); err != nil {
			return removed, err
		}
		pipelog.Logger.Info().Str("staging_dir", dir).Msg("swept orphaned staging directory")
		removed++
	}
	return removed, nil
}

// stagingDirOf returns the staging-directory prefix a key lives under,
// if any: everything up to and including the first path segment
// containing stagingMarker.
func stagingDirOf(key string) (string, bool) {
	idx := strings.Index(key, stagingMarker)
	if idx < 0 {
		return "", false
	}
	rest := key[idx:]
	end := strings.IndexByte(rest, '/')
	if end < 0 {
		return "", false
	}
	return key[:idx+end+1], true
}
