package silver

import (
	"fmt"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/model"
)

// compareOrderable returns -1/0/1 comparing two values of the same
// conceptual column (order_column, change_ts_column, event_ts_column),
// handling the record-value types model.Record actually carries.
func compareOrderable(a, b any) int {
	switch av := a.(type) {
	case nil:
		if b == nil {
			return 0
		}
		return -1
	case int64:
		bv, ok := toInt64(b)
		if !ok {
			break
		}
		return cmpInt64(av, bv)
	case int:
		bv, ok := toInt64(b)
		if !ok {
			break
		}
		return cmpInt64(int64(av), bv)
	case float64:
		bv, ok := toFloat64(b)
		if !ok {
			break
		}
		return cmpFloat64(av, bv)
	case string:
		bv, ok := b.(string)
		if !ok {
			break
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
		return 0
	}
	// Fall back to a string comparison of the formatted values so
	// mismatched or exotic types still produce a deterministic order.
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	if as < bs {
		return -1
	}
	if as > bs {
		return 1
	}
	return 0
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// WinnerOf applies §4.8's full_merge_dedupe/scd_type_1 selection rule
// across a group of records sharing one natural key: maximum of
// order_column, ties broken by change_ts_column, then lexicographic on
// the whole record's canonical encoding. Returns the index of the
// winner within group.
func WinnerOf(group []model.Record, spec config.SilverSpec) int {
	best := 0
	for i := 1; i < len(group); i++ {
		if compareCandidates(group[i], group[best], spec) > 0 {
			best = i
		}
	}
	return best
}

// compareCandidates implements the full tie-break chain, returning
// positive when a should win over b.
func compareCandidates(a, b model.Record, spec config.SilverSpec) int {
	if spec.OrderColumn != "" {
		if c := compareOrderable(a[spec.OrderColumn], b[spec.OrderColumn]); c != 0 {
			return c
		}
	}
	if spec.ChangeTSColumn != "" {
		if c := compareOrderable(a[spec.ChangeTSColumn], b[spec.ChangeTSColumn]); c != 0 {
			return c
		}
	}
	as, bs := a.CanonicalString(), b.CanonicalString()
	switch {
	case as > bs:
		return 1
	case as < bs:
		return -1
	default:
		return 0
	}
}
