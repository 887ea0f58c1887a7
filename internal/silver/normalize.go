package silver

import (
	"fmt"
	"strings"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/model"
)

// Normalize applies §4.8's post-model, pre-write rules: optional string
// trim and empty-string-to-null substitution, the rename map, and
// schema-mode enforcement (strict rejects columns outside the declared
// attributes, natural keys and reserved SCD/change columns, and only
// when attributes are declared; allow_new_columns passes them through).
// column_order is not read: output column order is set by the chunk
// encoders, and record field order has no semantic effect on this
// pipeline's formats.
func Normalize(r model.Record, spec config.SilverSpec) (model.Record, error) {
	out := make(model.Record, len(r))
	for k, v := range r {
		name := k
		if renamed, ok := spec.Normalization.RenameMap[k]; ok {
			name = renamed
		}
		out[name] = normalizeValue(v, spec.Normalization)
	}

	if spec.SchemaMode == config.SchemaStrict && len(spec.Attributes) > 0 {
		allowed := make(map[string]bool, len(spec.Attributes)+len(spec.NaturalKeys))
		for _, c := range spec.Attributes {
			allowed[c] = true
		}
		for _, c := range spec.NaturalKeys {
			allowed[c] = true
		}
		for _, reserved := range []string{"effective_from", "effective_to", "is_current", ChangeTypeColumn} {
			allowed[reserved] = true
		}
		for name := range out {
			if !allowed[name] {
				return nil, fmt.Errorf("silver: column %q not permitted under schema_mode=strict", name)
			}
		}
	}

	return out, nil
}

func normalizeValue(v any, spec config.NormalizationSpec) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if spec.TrimStrings {
		s = strings.TrimSpace(s)
	}
	if spec.EmptyStringToNull && s == "" {
		return nil
	}
	return s
}
