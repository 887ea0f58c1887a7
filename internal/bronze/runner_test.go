package bronze

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/hooks"
	"github.com/cuemby/medallion/internal/manifest"
	"github.com/cuemby/medallion/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func baseConfig(t *testing.T, srcDir, storagePrefix string) config.Config {
	return config.Config{
		System:      "orders",
		Entity:      "customers",
		RunDate:     time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		LoadPattern: config.LoadPatternFull,
		Source: config.SourceSpec{
			Type: config.SourceFile,
			File: &config.FileSourceSpec{
				Glob:   filepath.Join(srcDir, "*.csv"),
				Format: config.FileCSV,
			},
		},
		Output: config.OutputSpec{
			Formats:         []config.OutputFormat{config.FormatRow},
			MaxRowsPerChunk: 10,
		},
		Resilience: config.DefaultResilience(),
		Storage: config.StorageSpec{
			Type:         "local-fs",
			Scope:        config.ScopeOnprem,
			Boundary:     "internal",
			ProviderType: "filesystem",
			Prefix:       storagePrefix,
		},
	}
}

func TestRunner_Run_CommitsPartitionWithManifests(t *testing.T) {
	srcDir := t.TempDir()
	writeCSV(t, srcDir, "a.csv", "id,name\n1,alice\n2,bob\n")

	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()

	runner := NewRunner(backend, hooks.NewSurface(0))
	cfg := baseConfig(t, srcDir, "")

	result, err := runner.Run(context.Background(), cfg, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.RecordCount)
	assert.Equal(t, 1, result.ChunkCount)

	exists, err := backend.Exists(context.Background(), result.PartitionPath+manifest.MetadataFile)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := backend.Get(context.Background(), result.PartitionPath+manifest.MetadataFile)
	require.NoError(t, err)
	defer rc.Close()

	// staging directory must not remain after a successful commit.
	staged, err := backend.Exists(context.Background(), result.PartitionPath[:len(result.PartitionPath)-1]+".staging-run-1/"+manifest.MetadataFile)
	require.NoError(t, err)
	assert.False(t, staged)
}

func TestRunner_Run_RejectsInvalidConfig(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()

	runner := NewRunner(backend, hooks.NewSurface(0))
	cfg := baseConfig(t, t.TempDir(), "")
	cfg.System = ""

	_, err = runner.Run(context.Background(), cfg, "run-2")
	require.Error(t, err)
}

func TestRunner_Run_SecondRunReplacesPartitionAtomically(t *testing.T) {
	srcDir := t.TempDir()
	writeCSV(t, srcDir, "a.csv", "id,name\n1,alice\n")

	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()

	runner := NewRunner(backend, hooks.NewSurface(0))
	cfg := baseConfig(t, srcDir, "")

	first, err := runner.Run(context.Background(), cfg, "run-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.RecordCount)

	writeCSV(t, srcDir, "b.csv", "id,name\n2,carol\n3,dave\n")
	second, err := runner.Run(context.Background(), cfg, "run-b")
	require.NoError(t, err)
	assert.Equal(t, int64(3), second.RecordCount)
	assert.Equal(t, first.PartitionPath, second.PartitionPath)
}

func TestRunner_Run_EmitsLifecycleEvents(t *testing.T) {
	srcDir := t.TempDir()
	writeCSV(t, srcDir, "a.csv", "id\n1\n")

	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()

	var seen []hooks.EventType
	sink := func(ctx context.Context, e hooks.Event) error {
		seen = append(seen, e.Type)
		return nil
	}

	runner := NewRunner(backend, hooks.NewSurface(0, sink))
	cfg := baseConfig(t, srcDir, "")

	_, err = runner.Run(context.Background(), cfg, "run-c")
	require.NoError(t, err)

	assert.Contains(t, seen, hooks.EventRunStarted)
	assert.Contains(t, seen, hooks.EventPartitionWritten)
	assert.Contains(t, seen, hooks.EventSchemaSnapshot)
	assert.Contains(t, seen, hooks.EventRunCompleted)
}
