// Package config holds the resolved run intent (§3 "Extraction config")
// for a single Bronze or Silver invocation. Values here are already
// validated shapes, not raw YAML. Loading configuration documents from
// disk (load.go, called by cmd/medallion) is kept deliberately thin and
// does no validation, since YAML-to-config deserialization is an
// external collaborator concern per spec §1.
package config

import "time"

// LoadPattern selects the Bronze partition shape.
type LoadPattern string

const (
	LoadPatternFull           LoadPattern = "full"
	LoadPatternCDC            LoadPattern = "cdc"
	LoadPatternCurrentHistory LoadPattern = "current_history"
)

// SourceType discriminates the source_spec variant.
type SourceType string

const (
	SourceHTTP   SourceType = "http"
	SourceSQL    SourceType = "sql"
	SourceFile   SourceType = "file"
	SourceCustom SourceType = "custom"
)

// OutputFormat is one member of output_spec.format set.
type OutputFormat string

const (
	FormatColumnar OutputFormat = "columnar"
	FormatRow      OutputFormat = "row"
)

// StorageScope is the onprem/cloud policy dimension (§4.9).
type StorageScope string

const (
	ScopeOnprem StorageScope = "onprem"
	ScopeCloud  StorageScope = "cloud"
)

// Config is the fully resolved run intent for one Bronze (and optionally
// chained Silver) invocation.
type Config struct {
	System string `yaml:"system"`
	Entity string `yaml:"entity"`

	RunDate     time.Time   `yaml:"run_date"`
	LoadPattern LoadPattern `yaml:"load_pattern"`

	Source SourceSpec `yaml:"source"`
	Output OutputSpec `yaml:"run"`

	Resilience ResilienceSpec `yaml:"resilience"`

	Silver  *SilverSpec  `yaml:"silver,omitempty"`
	Storage StorageSpec  `yaml:"storage"`
}

// SourceSpec is the discriminated adapter configuration (§4.3).
type SourceSpec struct {
	Type SourceType `yaml:"type"`

	HTTP *HTTPSourceSpec `yaml:"http,omitempty"`
	SQL  *SQLSourceSpec  `yaml:"sql,omitempty"`
	File *FileSourceSpec `yaml:"file,omitempty"`

	// CustomTag names a registry entry for SourceType == SourceCustom.
	CustomTag string `yaml:"custom_tag,omitempty"`
}

// AuthVariant selects the HTTP source's auth scheme.
type AuthVariant string

const (
	AuthNone      AuthVariant = "none"
	AuthBearer    AuthVariant = "bearer"
	AuthHeaderKey AuthVariant = "header-key"
	AuthBasic     AuthVariant = "basic"
)

// PaginationVariant selects the HTTP source's pagination scheme.
type PaginationVariant string

const (
	PaginationNone   PaginationVariant = "none"
	PaginationOffset PaginationVariant = "offset"
	PaginationPage   PaginationVariant = "page"
	PaginationCursor PaginationVariant = "cursor"
)

// HTTPSourceSpec parameterizes the HTTP source adapter (§4.3).
type HTTPSourceSpec struct {
	BaseURL  string            `yaml:"base_url"`
	Path     string            `yaml:"path"`
	Method   string            `yaml:"method"`
	Headers  map[string]string `yaml:"headers"`
	Query    map[string]string `yaml:"query"`

	Auth          AuthVariant `yaml:"auth"`
	AuthEnvVar    string      `yaml:"auth_env_var"`
	AuthHeaderKey string      `yaml:"auth_header_key"`

	Pagination      PaginationVariant `yaml:"pagination"`
	OffsetSize      int               `yaml:"offset_size"`
	OffsetParam     string            `yaml:"offset_param"`
	LimitParam      string            `yaml:"limit_param"`
	PageParam       string            `yaml:"page_param"`
	PageSizeParam   string            `yaml:"page_size_param"`
	CursorNextField string            `yaml:"cursor_next_field"`
	CursorParam     string            `yaml:"cursor_param"`

	RecordsPath string `yaml:"records_path"`

	Async         bool `yaml:"async"`
	PrefetchDepth int  `yaml:"prefetch_depth"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SQLSourceSpec parameterizes the SQL source adapter (§4.3).
type SQLSourceSpec struct {
	Driver     string `yaml:"driver"`
	ConnRef    string `yaml:"conn_ref"`
	Query      string `yaml:"query"`
	BatchSize  int    `yaml:"batch_size"`

	WatermarkColumn string `yaml:"watermark_column"`
	LastSeenValue   string `yaml:"last_seen_value"`

	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// FileFormat selects the file source's record format.
type FileFormat string

const (
	FileCSV        FileFormat = "csv"
	FileTSV        FileFormat = "tsv"
	FileJSON       FileFormat = "json"
	FileJSONLines  FileFormat = "json-lines"
	FileColumnar   FileFormat = "columnar"
)

// FileSourceSpec parameterizes the file source adapter (§4.3).
type FileSourceSpec struct {
	Glob      string     `yaml:"glob"`
	Format    FileFormat `yaml:"format"`
	Columns   []string   `yaml:"columns,omitempty"`
	RowLimit  int        `yaml:"row_limit,omitempty"`
}

// OutputSpec controls Bronze chunking and format (§3/§6 run.*).
type OutputSpec struct {
	Formats         []OutputFormat `yaml:"format_set"`
	Compression     string         `yaml:"compression"`
	MaxRowsPerChunk int            `yaml:"max_rows_per_chunk"`
	MaxBytesPerChunk int64         `yaml:"max_bytes_per_chunk"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	ParallelWorkers int  `yaml:"parallel_workers"`
	ChunkParallel   bool `yaml:"chunk_parallel"`

	PrefetchDepth int `yaml:"prefetch_depth"`

	OverallTimeout time.Duration `yaml:"overall_timeout"`
}

// ResilienceSpec holds retry/breaker parameters (§4.2).
type ResilienceSpec struct {
	MaxAttempts    int           `yaml:"attempts"`
	BaseDelay      time.Duration `yaml:"base"`
	MaxDelay       time.Duration `yaml:"max"`
	Multiplier     float64       `yaml:"multiplier"`
	JitterFraction float64       `yaml:"jitter"`

	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// DefaultRateLimit returns the rps/burst pair the Bronze runner falls
// back to when a config's Output leaves both fields at zero. §6
// declares `run.rate_limit.rps`/`.burst` domain as "positive number" —
// zero is not a valid explicit setting, it only arises when the keys
// are omitted. The limiter's own `burst=0, rps=0` boundary behavior
// (§8: block until cancelled) is a property of resilience.Limiter
// itself, not something an unconfigured run should ever hit.
func DefaultRateLimit() (rps float64, burst int) {
	return 1e6, 1 << 20
}

// DefaultResilience returns the spec's sensible defaults.
func DefaultResilience() ResilienceSpec {
	return ResilienceSpec{
		MaxAttempts:      3,
		BaseDelay:        200 * time.Millisecond,
		MaxDelay:         30 * time.Second,
		Multiplier:       2.0,
		JitterFraction:   0.2,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// EntityKind selects the Silver dispatch family (§6 silver.entity_kind).
type EntityKind string

const (
	EntityEvent         EntityKind = "event"
	EntityState         EntityKind = "state"
	EntityDerivedEvent  EntityKind = "derived_event"
	EntityDerivedState  EntityKind = "derived_state"
)

// HistoryMode selects state-entity dispatch (§6 silver.history_mode).
type HistoryMode string

const (
	HistorySCD2       HistoryMode = "scd2"
	HistorySCD1       HistoryMode = "scd1"
	HistoryLatestOnly HistoryMode = "latest_only"
)

// InputMode selects event-entity dispatch (§6 silver.input_mode).
type InputMode string

const (
	InputAppendLog   InputMode = "append_log"
	InputReplaceDaily InputMode = "replace_daily"
)

// DeleteMode selects tombstone handling (§4.8).
type DeleteMode string

const (
	DeleteIgnore          DeleteMode = "ignore"
	DeleteTombstoneState  DeleteMode = "tombstone_state"
	DeleteTombstoneEvent  DeleteMode = "tombstone_event"
)

// SchemaMode controls unknown-column handling (§4.8 normalization).
type SchemaMode string

const (
	SchemaStrict           SchemaMode = "strict"
	SchemaAllowNewColumns  SchemaMode = "allow_new_columns"
)

// ModelChoice names a Silver model handler explicitly (§4.8 table).
type ModelChoice string

const (
	ModelPeriodicSnapshot ModelChoice = "periodic_snapshot"
	ModelFullMergeDedupe  ModelChoice = "full_merge_dedupe"
	ModelSCDType1         ModelChoice = "scd_type_1"
	ModelSCDType2         ModelChoice = "scd_type_2"
	ModelIncrementalMerge ModelChoice = "incremental_merge"
)

// NormalizationSpec is applied after model-specific logic, before write.
type NormalizationSpec struct {
	TrimStrings        bool `yaml:"trim_strings"`
	EmptyStringToNull  bool `yaml:"empty_string_to_null"`
	RenameMap          map[string]string `yaml:"rename_map,omitempty"`
	ColumnOrder        []string          `yaml:"column_order,omitempty"`
}

// ErrorHandlingSpec controls bad-row quarantine (§4.8).
type ErrorHandlingSpec struct {
	Enabled        bool    `yaml:"enabled"`
	MaxBadRecords  int64   `yaml:"max_bad_records"`
	MaxBadPercent  float64 `yaml:"max_bad_percent"`
}

// PartitioningSpec controls Silver secondary partitioning.
type PartitioningSpec struct {
	SecondaryColumns []string `yaml:"secondary_columns,omitempty"`
	MemoryBudgetBytes int64   `yaml:"memory_budget_bytes"`
	ExternalSortRuns  int     `yaml:"external_sort_runs"`
}

// SilverSpec is present iff a Silver run follows the Bronze run (§3).
type SilverSpec struct {
	EntityKind EntityKind  `yaml:"entity_kind"`
	HistoryMode HistoryMode `yaml:"history_mode,omitempty"`
	InputMode   InputMode   `yaml:"input_mode,omitempty"`
	DeleteMode  DeleteMode  `yaml:"delete_mode"`
	SchemaMode  SchemaMode  `yaml:"schema_mode"`

	NaturalKeys    []string `yaml:"natural_keys"`
	EventTSColumn  string   `yaml:"event_ts_column"`
	ChangeTSColumn string   `yaml:"change_ts_column"`
	OrderColumn    string   `yaml:"order_column"`
	Attributes     []string `yaml:"attributes,omitempty"`
	PartitionBy    []string `yaml:"partition_by,omitempty"`

	ModelChoice ModelChoice `yaml:"model_choice,omitempty"`

	Normalization NormalizationSpec `yaml:"normalization"`
	ErrorHandling ErrorHandlingSpec `yaml:"error_handling"`
	Partitioning  PartitioningSpec  `yaml:"partitioning"`

	Domain  string `yaml:"domain"`
	Version int    `yaml:"version"`
}

// StorageSpec selects and configures the storage backend (§4.1/§4.9).
type StorageSpec struct {
	Type   string `yaml:"type"`
	Prefix string `yaml:"prefix"`

	Scope StorageScope `yaml:"scope"`

	Boundary     string `yaml:"boundary"`
	ProviderType string `yaml:"provider_type"`

	CredentialRef string `yaml:"credential_ref,omitempty"`
	Endpoint      string `yaml:"endpoint,omitempty"`
	Bucket        string `yaml:"bucket,omitempty"`
	Region        string `yaml:"region,omitempty"`
}

// ResolvedModel determines which Silver model handler applies, honoring
// an explicit model_choice override or deriving it from entity_kind,
// history_mode and input_mode (§4.8 dispatch table).
func (s *SilverSpec) ResolvedModel() ModelChoice {
	if s.ModelChoice != "" {
		return s.ModelChoice
	}
	switch s.EntityKind {
	case EntityEvent, EntityDerivedEvent:
		return ModelIncrementalMerge
	case EntityState, EntityDerivedState:
		switch s.HistoryMode {
		case HistorySCD2:
			return ModelSCDType2
		case HistorySCD1, HistoryLatestOnly:
			return ModelSCDType1
		}
	}
	return ModelPeriodicSnapshot
}
