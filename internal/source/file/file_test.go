package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/medallion/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func drainFile(t *testing.T, a *Adapter) []map[string]any {
	t.Helper()
	ch, err := a.Extract(context.Background(), "")
	require.NoError(t, err)
	var got []map[string]any
	for item := range ch {
		require.NoError(t, item.Err)
		got = append(got, item.Record)
	}
	return got
}

func TestAdapter_CSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "id,name\n1,alice\n2,bob\n")

	a := New(config.FileSourceSpec{Glob: filepath.Join(dir, "*.csv"), Format: config.FileCSV})
	got := drainFile(t, a)

	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0]["name"])
	assert.Equal(t, "bob", got[1]["name"])
}

func TestAdapter_TSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.tsv", "id\tname\n1\talice\n")

	a := New(config.FileSourceSpec{Glob: filepath.Join(dir, "*.tsv"), Format: config.FileTSV})
	got := drainFile(t, a)

	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0]["id"])
}

func TestAdapter_JSONLines(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl", "{\"id\":\"1\"}\n{\"id\":\"2\"}\n")

	a := New(config.FileSourceSpec{Glob: filepath.Join(dir, "*.jsonl"), Format: config.FileJSONLines})
	got := drainFile(t, a)

	require.Len(t, got, 2)
}

func TestAdapter_JSONArray(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `[{"id":"1"},{"id":"2"},{"id":"3"}]`)

	a := New(config.FileSourceSpec{Glob: filepath.Join(dir, "*.json"), Format: config.FileJSON})
	got := drainFile(t, a)

	require.Len(t, got, 3)
}

func TestAdapter_ColumnProjection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "id,name,extra\n1,alice,xxx\n")

	a := New(config.FileSourceSpec{
		Glob:    filepath.Join(dir, "*.csv"),
		Format:  config.FileCSV,
		Columns: []string{"id", "name"},
	})
	got := drainFile(t, a)

	require.Len(t, got, 1)
	assert.Contains(t, got[0], "id")
	assert.Contains(t, got[0], "name")
	assert.NotContains(t, got[0], "extra")
}

func TestAdapter_RowLimit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "id\n1\n2\n3\n4\n5\n")

	a := New(config.FileSourceSpec{Glob: filepath.Join(dir, "*.csv"), Format: config.FileCSV, RowLimit: 2})
	got := drainFile(t, a)

	assert.Len(t, got, 2)
}

func TestAdapter_MultipleFilesSortedByPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.csv", "id\n2\n")
	writeFile(t, dir, "a.csv", "id\n1\n")

	a := New(config.FileSourceSpec{Glob: filepath.Join(dir, "*.csv"), Format: config.FileCSV})
	got := drainFile(t, a)

	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0]["id"])
	assert.Equal(t, "2", got[1]["id"])
}
