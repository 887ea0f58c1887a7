package silver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/medallion/internal/bronze"
	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/hooks"
	"github.com/cuemby/medallion/internal/storage"
	"github.com/stretchr/testify/require"
)

// writeBronzePartition runs a real Bronze extraction over a json-lines
// fixture so Silver tests exercise the same manifest/chunk format the
// Bronze runner actually produces, rather than a hand-built stand-in.
func writeBronzePartition(t *testing.T, backend storage.Backend, cfg config.Config, body string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.jsonl"), []byte(body), 0o644))

	bronzeCfg := cfg
	bronzeCfg.Silver = nil
	bronzeCfg.Source = config.SourceSpec{
		Type: config.SourceFile,
		File: &config.FileSourceSpec{
			Glob:   filepath.Join(dir, "*.jsonl"),
			Format: config.FileJSONLines,
		},
	}
	bronzeCfg.Output = config.OutputSpec{
		Formats:         []config.OutputFormat{config.FormatRow},
		MaxRowsPerChunk: 100,
	}

	runner := bronze.NewRunner(backend, hooks.NewSurface(0))
	_, err := runner.Run(context.Background(), bronzeCfg, "bronze-seed")
	require.NoError(t, err)
}

func baseSilverConfig(storagePrefix string) config.Config {
	return config.Config{
		System:      "orders",
		Entity:      "customers",
		RunDate:     time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		LoadPattern: config.LoadPatternFull,
		Resilience:  config.DefaultResilience(),
		Storage: config.StorageSpec{
			Type:         "local-fs",
			Scope:        config.ScopeOnprem,
			Boundary:     "internal",
			ProviderType: "filesystem",
			Prefix:       storagePrefix,
		},
	}
}

func TestEngine_PeriodicSnapshot_Passthrough(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()

	cfg := baseSilverConfig("")
	writeBronzePartition(t, backend, cfg, `{"id":1,"name":"alice"}
{"id":2,"name":"bob"}
`)
	cfg.Silver = &config.SilverSpec{
		EntityKind: config.EntityState,
		HistoryMode: config.HistoryLatestOnly,
		SchemaMode:  config.SchemaAllowNewColumns,
		NaturalKeys: []string{"id"},
		ModelChoice: config.ModelPeriodicSnapshot,
	}

	engine := NewEngine(backend, hooks.NewSurface(0))
	result, err := engine.Run(context.Background(), cfg, "silver-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), result.RecordCount)
	require.Equal(t, int64(0), result.BadRowCount)
}

func TestEngine_FullMergeDedupe_KeepsMaxOrderColumn(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()

	cfg := baseSilverConfig("")
	writeBronzePartition(t, backend, cfg, `{"id":1,"order_column":1,"name":"alice-old"}
{"id":1,"order_column":3,"name":"alice-new"}
{"id":1,"order_column":2,"name":"alice-mid"}
{"id":2,"order_column":1,"name":"bob"}
`)
	cfg.Silver = &config.SilverSpec{
		EntityKind:  config.EntityState,
		HistoryMode: config.HistorySCD1,
		SchemaMode:  config.SchemaAllowNewColumns,
		NaturalKeys: []string{"id"},
		OrderColumn: "order_column",
		ModelChoice: config.ModelFullMergeDedupe,
	}

	engine := NewEngine(backend, hooks.NewSurface(0))
	result, err := engine.Run(context.Background(), cfg, "silver-2")
	require.NoError(t, err)
	require.Equal(t, int64(2), result.RecordCount)

	require.Len(t, result.PartitionPaths, 1)
	records := readAllRecords(t, backend, result.PartitionPaths[0])
	byID := indexByID(records)
	require.Equal(t, "alice-new", byID["1"]["name"])
	require.Equal(t, "bob", byID["2"]["name"])
}

func TestEngine_SCD2_BuildsDisjointIntervals(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()

	cfg := baseSilverConfig("")
	writeBronzePartition(t, backend, cfg, `{"id":1,"change_type":"insert","event_ts":1,"v":"X"}
{"id":1,"change_type":"update","event_ts":2,"v":"Y"}
{"id":1,"change_type":"delete","event_ts":3}
`)
	cfg.Silver = &config.SilverSpec{
		EntityKind:    config.EntityState,
		HistoryMode:   config.HistorySCD2,
		DeleteMode:    config.DeleteTombstoneState,
		SchemaMode:    config.SchemaAllowNewColumns,
		NaturalKeys:   []string{"id"},
		EventTSColumn: "event_ts",
		ModelChoice:   config.ModelSCDType2,
	}

	engine := NewEngine(backend, hooks.NewSurface(0))
	result, err := engine.Run(context.Background(), cfg, "silver-3")
	require.NoError(t, err)
	require.Equal(t, int64(2), result.RecordCount) // 2 history rows, 0 current

	var historyPath, currentPath string
	for _, p := range result.PartitionPaths {
		switch {
		case containsSegment(p, "history"):
			historyPath = p
		case containsSegment(p, "current"):
			currentPath = p
		}
	}
	require.NotEmpty(t, historyPath)

	history := readAllRecords(t, backend, historyPath)
	require.Len(t, history, 2)
	for _, r := range history {
		require.False(t, r["is_current"].(bool))
	}

	if currentPath != "" {
		current := readAllRecords(t, backend, currentPath)
		require.Empty(t, current)
	}
}

func TestEngine_SCD2_CurrentHistorySnapshotMerge(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()

	cfg := baseSilverConfig("")
	writeBronzePartition(t, backend, cfg, `{"id":"A","effective_from":1,"v":"X"}
{"id":"A","effective_from":5,"v":"Y","is_current":true}
{"id":"B","effective_from":3,"v":"Z","is_current":true}
`)
	cfg.Silver = &config.SilverSpec{
		EntityKind:    config.EntityState,
		HistoryMode:   config.HistorySCD2,
		DeleteMode:    config.DeleteIgnore,
		SchemaMode:    config.SchemaAllowNewColumns,
		NaturalKeys:   []string{"id"},
		EventTSColumn: "event_ts", // absent from this fixture; recordTimestamp falls back to effective_from
		ModelChoice:   config.ModelSCDType2,
	}

	engine := NewEngine(backend, hooks.NewSurface(0))
	result, err := engine.Run(context.Background(), cfg, "silver-4")
	require.NoError(t, err)
	require.Equal(t, int64(5), result.RecordCount) // 3 history + 2 current

	var historyPath, currentPath string
	for _, p := range result.PartitionPaths {
		switch {
		case containsSegment(p, "history"):
			historyPath = p
		case containsSegment(p, "current"):
			currentPath = p
		}
	}
	require.Len(t, readAllRecords(t, backend, historyPath), 3)
	current := readAllRecords(t, backend, currentPath)
	require.Len(t, current, 2)
	byID := indexByID(current)
	require.Equal(t, "Y", byID["A"]["v"])
	require.Equal(t, "Z", byID["B"]["v"])
}

func TestEngine_IncrementalMerge_PreservesOrderAndAllRows(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()

	cfg := baseSilverConfig("")
	writeBronzePartition(t, backend, cfg, `{"id":1,"change_type":"delete","event_ts":3}
{"id":1,"change_type":"insert","event_ts":1}
{"id":1,"change_type":"update","event_ts":2}
`)
	cfg.Silver = &config.SilverSpec{
		EntityKind:    config.EntityEvent,
		SchemaMode:    config.SchemaAllowNewColumns,
		NaturalKeys:   []string{"id"},
		EventTSColumn: "event_ts",
		ModelChoice:   config.ModelIncrementalMerge,
	}

	engine := NewEngine(backend, hooks.NewSurface(0))
	result, err := engine.Run(context.Background(), cfg, "silver-5")
	require.NoError(t, err)
	require.Equal(t, int64(3), result.RecordCount)

	records := readAllRecords(t, backend, result.PartitionPaths[0])
	require.Len(t, records, 3)
	require.Equal(t, "insert", records[0]["change_type"])
	require.Equal(t, "update", records[1]["change_type"])
	require.Equal(t, "delete", records[2]["change_type"])
}

func TestEngine_BadRowQuarantine_FailsPastThreshold(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()

	cfg := baseSilverConfig("")
	writeBronzePartition(t, backend, cfg, `{"id":1,"name":"alice"}
{"name":"no-id-1"}
{"name":"no-id-2"}
{"id":2,"name":"bob"}
`)
	cfg.Silver = &config.SilverSpec{
		EntityKind:  config.EntityState,
		HistoryMode: config.HistoryLatestOnly,
		SchemaMode:  config.SchemaAllowNewColumns,
		NaturalKeys: []string{"id"},
		ModelChoice: config.ModelPeriodicSnapshot,
		ErrorHandling: config.ErrorHandlingSpec{
			Enabled:       true,
			MaxBadRecords: 1,
		},
	}

	engine := NewEngine(backend, hooks.NewSurface(0))
	_, err = engine.Run(context.Background(), cfg, "silver-6")
	require.Error(t, err)
}

func containsSegment(path, seg string) bool {
	return strings.Contains(path, seg)
}

func indexByID(records []map[string]any) map[any]map[string]any {
	out := make(map[any]map[string]any, len(records))
	for _, r := range records {
		out[r["id"]] = r
	}
	return out
}

// readAllRecords reads every chunk of a committed Silver partition back
// into memory for assertion purposes.
func readAllRecords(t *testing.T, backend storage.Backend, partitionPath string) []map[string]any {
	t.Helper()
	ctx := context.Background()
	bi, err := OpenBronzePartition(ctx, backend, partitionPath)
	require.NoError(t, err)

	var out []map[string]any
	for item := range bi.Records(ctx) {
		require.NoError(t, item.Err)
		out = append(out, item.Record)
	}
	return out
}
