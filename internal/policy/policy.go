// Package policy implements the C9 policy gate: the pre-I/O validation
// pass that checks scope, storage metadata, and required fields per
// load pattern / entity kind before a Bronze or Silver run touches any
// backend.
package policy

import (
	"fmt"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/partition"
)

// Code is a stable per-rule violation identifier, so callers and tests
// can match on the rule rather than the message text.
type Code string

const (
	CodeMissingSystem       Code = "missing_system"
	CodeMissingEntity       Code = "missing_entity"
	CodeInvalidIdentifier   Code = "invalid_identifier"
	CodeScopeMismatch       Code = "scope_mismatch"
	CodeMissingBoundary     Code = "missing_boundary"
	CodeMissingProviderType Code = "missing_provider_type"
	CodeMissingSourceSpec   Code = "missing_source_spec"
	CodeMissingSilverFields Code = "missing_silver_fields"
)

// Violation is one failed policy rule.
type Violation struct {
	Code    Code
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// onpremAllowList names the storage backend kinds permitted when
// storage_spec.scope == onprem (§4.9).
var onpremAllowList = map[string]bool{
	"local-fs": true,
}

// Check runs every C9 rule against cfg and returns the first violation
// encountered, or nil if cfg passes the gate.
func Check(cfg config.Config) error {
	if cfg.System == "" {
		return &Violation{Code: CodeMissingSystem, Message: "system is required"}
	}
	if cfg.Entity == "" {
		return &Violation{Code: CodeMissingEntity, Message: "entity is required"}
	}
	if _, err := partition.NormalizeIdentifier("system", cfg.System); err != nil {
		return &Violation{Code: CodeInvalidIdentifier, Message: err.Error()}
	}
	if _, err := partition.NormalizeIdentifier("entity", cfg.Entity); err != nil {
		return &Violation{Code: CodeInvalidIdentifier, Message: err.Error()}
	}

	if err := checkStorage(cfg.Storage); err != nil {
		return err
	}
	if err := checkSource(cfg.Source); err != nil {
		return err
	}
	if cfg.Silver != nil {
		if err := checkSilver(*cfg.Silver); err != nil {
			return err
		}
	}
	return nil
}

func checkStorage(s config.StorageSpec) error {
	switch s.Scope {
	case config.ScopeOnprem:
		if !onpremAllowList[s.Type] {
			return &Violation{
				Code:    CodeScopeMismatch,
				Message: fmt.Sprintf("storage type %q is not on the onprem allow-list", s.Type),
			}
		}
	case config.ScopeCloud:
		// any registered backend is acceptable for cloud scope.
	default:
		return &Violation{Code: CodeScopeMismatch, Message: fmt.Sprintf("unknown storage scope %q", s.Scope)}
	}

	if s.Boundary == "" {
		return &Violation{Code: CodeMissingBoundary, Message: "storage.boundary is required"}
	}
	if s.ProviderType == "" {
		return &Violation{Code: CodeMissingProviderType, Message: "storage.provider_type is required"}
	}
	return nil
}

func checkSource(s config.SourceSpec) error {
	switch s.Type {
	case config.SourceHTTP:
		if s.HTTP == nil {
			return &Violation{Code: CodeMissingSourceSpec, Message: "source.http is required when type=http"}
		}
	case config.SourceSQL:
		if s.SQL == nil {
			return &Violation{Code: CodeMissingSourceSpec, Message: "source.sql is required when type=sql"}
		}
	case config.SourceFile:
		if s.File == nil {
			return &Violation{Code: CodeMissingSourceSpec, Message: "source.file is required when type=file"}
		}
	case config.SourceCustom:
		if s.CustomTag == "" {
			return &Violation{Code: CodeMissingSourceSpec, Message: "source.custom_tag is required when type=custom"}
		}
	default:
		return &Violation{Code: CodeMissingSourceSpec, Message: fmt.Sprintf("unknown source type %q", s.Type)}
	}
	return nil
}

// checkSilver enforces §4.8's preconditions: state entities need a
// history_mode, event entities need an event_ts_column, and every
// silver run needs at least one natural key to dedupe/merge against.
func checkSilver(s config.SilverSpec) error {
	if len(s.NaturalKeys) == 0 {
		return &Violation{Code: CodeMissingSilverFields, Message: "silver.natural_keys must be non-empty"}
	}

	switch s.EntityKind {
	case config.EntityState, config.EntityDerivedState:
		if s.HistoryMode == "" {
			return &Violation{Code: CodeMissingSilverFields, Message: "silver.history_mode is required for state entities"}
		}
		if s.HistoryMode == config.HistorySCD2 && s.EventTSColumn == "" {
			return &Violation{Code: CodeMissingSilverFields, Message: "silver.event_ts_column is required for scd2"}
		}
	case config.EntityEvent, config.EntityDerivedEvent:
		if s.EventTSColumn == "" {
			return &Violation{Code: CodeMissingSilverFields, Message: "silver.event_ts_column is required for event entities"}
		}
	default:
		return &Violation{Code: CodeMissingSilverFields, Message: fmt.Sprintf("unknown entity_kind %q", s.EntityKind)}
	}
	return nil
}
