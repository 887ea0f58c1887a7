package silver

import (
	"fmt"
	"strings"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/model"
)

// ChangeTypeColumn is the derived column name §4.8's incremental_merge
// model preserves ("derived change_type column"); the SCD models read
// the same column to detect delete markers. Delete detection reads the
// Bronze record's own column of this name: normalization.rename_map is
// applied after model logic, so renaming a source column onto this name
// does not feed it.
const ChangeTypeColumn = "change_type"

const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// NormalizeChangeType folds the common single-letter/word CDC spellings
// (I/U/D, insert/update/delete, upsert) onto the three canonical values,
// defaulting unrecognized or absent markers to ChangeUpdate since an
// attribute-bearing row with no explicit op is, operationally, a state
// update.
func NormalizeChangeType(v any) string {
	s := strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", v)))
	switch s {
	case "i", "insert", "create":
		return ChangeInsert
	case "u", "update", "upsert":
		return ChangeUpdate
	case "d", "delete", "remove":
		return ChangeDelete
	default:
		return ChangeUpdate
	}
}

// IsDeleteMarker reports whether r carries a recognized delete marker:
// a change_type column with a delete spelling, or a boolean
// _deleted/is_deleted flag.
func IsDeleteMarker(r model.Record) bool {
	if v, ok := r[ChangeTypeColumn]; ok {
		return NormalizeChangeType(v) == ChangeDelete
	}
	for _, flag := range []string{"_deleted", "is_deleted"} {
		if v, ok := r[flag]; ok {
			if b, ok := v.(bool); ok && b {
				return true
			}
		}
	}
	return false
}

// NaturalKey renders the join of a record's declared natural-key
// columns into one comparable string, used both as a map key for
// in-memory grouping and as the hash input for external-sort bucketing.
func NaturalKey(r model.Record, naturalKeys []string) (string, bool) {
	var b strings.Builder
	for i, k := range naturalKeys {
		v, ok := r[k]
		if !ok || v == nil {
			return "", false
		}
		if i > 0 {
			b.WriteByte(0x1f) // unit separator, unlikely to collide with data
		}
		fmt.Fprintf(&b, "%v", v)
	}
	return b.String(), true
}

// IsBadRow reports whether r fails §4.8's bad-row test: any declared
// natural key null/missing, or a required attribute column missing.
func IsBadRow(r model.Record, spec config.SilverSpec) (bad bool, reason string) {
	if _, ok := NaturalKey(r, spec.NaturalKeys); !ok {
		return true, "missing_natural_key"
	}
	for _, col := range spec.Attributes {
		if _, ok := r[col]; !ok {
			return true, "missing_required_column"
		}
	}
	return false, ""
}
