// Package model defines the record and schema types shared by every
// stage of the Bronze/Silver pipeline.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FieldType is a position in the fixed type lattice used for schema
// inference and the schema snapshot written into partition metadata.
type FieldType string

const (
	TypeNull     FieldType = "null"
	TypeBoolean  FieldType = "boolean"
	TypeInteger  FieldType = "integer"
	TypeFloating FieldType = "floating"
	TypeString   FieldType = "string"
	TypeTimestamp FieldType = "timestamp"
	TypeMixed    FieldType = "mixed"
)

// Record is an unordered mapping from field name to value. Values are
// one of: nil, bool, int64, float64, string, time.Time.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// FieldNames returns the record's keys in sorted order, for deterministic
// iteration (chunk encoding, lexicographic tie-breaking).
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// CanonicalString renders the record deterministically for lexicographic
// tie-breaking (§4.8 full_merge_dedupe secondary sort).
func (r Record) CanonicalString() string {
	var b strings.Builder
	for _, name := range r.FieldNames() {
		fmt.Fprintf(&b, "%s=%v;", name, r[name])
	}
	return b.String()
}

// InferType infers the lattice type of a single value.
func InferType(v any) FieldType {
	switch v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case int, int32, int64:
		return TypeInteger
	case float32, float64:
		return TypeFloating
	case time.Time:
		return TypeTimestamp
	case string:
		return TypeString
	default:
		return TypeMixed
	}
}

// Column is one entry of a schema snapshot.
type Column struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Schema is an inferred field-name -> type mapping built up incrementally
// as records are observed, per §4.6's fixed type lattice.
type Schema struct {
	columns map[string]FieldType
	order   []string
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{columns: make(map[string]FieldType)}
}

// Observe folds one record's field types into the schema, widening a
// column to "mixed" the first time it sees two different non-null types.
func (s *Schema) Observe(r Record) {
	for _, name := range r.FieldNames() {
		t := InferType(r[name])
		existing, ok := s.columns[name]
		if !ok {
			s.columns[name] = t
			s.order = append(s.order, name)
			continue
		}
		if t == TypeNull || existing == t {
			continue
		}
		if existing == TypeNull {
			s.columns[name] = t
			continue
		}
		s.columns[name] = TypeMixed
	}
}

// Columns returns the schema snapshot in first-observed order.
func (s *Schema) Columns() []Column {
	out := make([]Column, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, Column{Name: name, Type: s.columns[name]})
	}
	return out
}
