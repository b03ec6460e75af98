package snapshotjson

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socgraph/internal/graph/topology"
)

func TestWriteSnapshotReplacesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "topology.json")
	w, err := NewWriter(path)
	require.NoError(t, err)

	snap := topology.EmptySnapshot(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	snap.BuildID = "first"
	require.NoError(t, w.WriteSnapshot(context.Background(), snap))
	snap.BuildID = "second"
	require.NoError(t, w.WriteSnapshot(context.Background(), snap))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "second", got.BuildID)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".snapshot-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
