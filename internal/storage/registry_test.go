package storage

import (
	"testing"

	"github.com/cuemby/medallion/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_LocalFS(t *testing.T) {
	b, err := Open(config.StorageSpec{Type: string(KindLocalFS), Prefix: t.TempDir()})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, KindLocalFS, b.Kind())
}

func TestOpen_UnknownType(t *testing.T) {
	_, err := Open(config.StorageSpec{Type: "nonexistent-backend"})
	require.Error(t, err)
}

func TestOpen_LocalFS_RejectsEmptyPrefix(t *testing.T) {
	_, err := Open(config.StorageSpec{Type: string(KindLocalFS)})
	require.Error(t, err)
}
