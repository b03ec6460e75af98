package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socgraph/internal/graph/topology"
	"socgraph/pkg/models"
)

var testNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "socgraph.db"))
	require.NoError(t, err)
	s.now = func() time.Time { return testNow }
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetRecentLogsNewestFirstWithinWindow(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for _, rec := range []*models.LogRecord{
		{AgentID: "old", Message: "stale", Timestamp: testNow.Add(-48 * time.Hour)},
		{AgentID: "a1", Message: "first", Timestamp: testNow.Add(-time.Hour)},
		{AgentID: "a2", Message: "second", Timestamp: testNow.Add(-30 * time.Minute),
			NetworkInfo: map[string]interface{}{"source_ip": "10.0.0.5"}},
	} {
		require.NoError(t, s.InsertLog(ctx, rec))
	}

	got, err := s.GetRecentLogs(ctx, 24*time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].AgentID)
	assert.Equal(t, "10.0.0.5", got[0].Network("source_ip"))
	assert.True(t, got[0].Timestamp.Equal(testNow.Add(-30*time.Minute)))
	assert.Equal(t, "a1", got[1].AgentID)

	got, err = s.GetRecentLogs(ctx, 24*time.Hour, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].AgentID)
}

func TestInsertLogWithoutTimestampUsesNow(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.InsertLog(ctx, &models.LogRecord{AgentID: "a1", Message: "m"}))
	require.NoError(t, s.InsertLog(ctx, nil))

	got, err := s.GetRecentLogs(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.IsZero())
}

func TestArchiveLogsBatch(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.ArchiveLogs(ctx, []*models.LogRecord{
		{AgentID: "a", Timestamp: testNow.Add(-2 * time.Minute)},
		nil,
		{AgentID: "b", Timestamp: testNow.Add(-time.Minute)},
	}))

	got, err := s.GetRecentLogs(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].AgentID)
}

func TestPruneLogs(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.InsertLog(ctx, &models.LogRecord{AgentID: "a", Timestamp: testNow.Add(-72 * time.Hour)}))
	require.NoError(t, s.InsertLog(ctx, &models.LogRecord{AgentID: "b", Timestamp: testNow}))

	n, err := s.PruneLogs(ctx, testNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSnapshotPersistence(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_, err := s.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	first := topology.EmptySnapshot(testNow)
	first.BuildID = "build-1"
	require.NoError(t, s.SaveSnapshot(ctx, first))

	s.now = func() time.Time { return testNow.Add(time.Minute) }
	second := topology.EmptySnapshot(testNow)
	second.BuildID = "build-2"
	second.HighValueTargets = []string{"dc1"}
	require.NoError(t, s.SaveSnapshot(ctx, second))

	got, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "build-2", got.BuildID)
	assert.Equal(t, []string{"dc1"}, got.HighValueTargets)
	assert.NotNil(t, got.Nodes)

	n, err := s.PruneSnapshots(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, err = s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "build-2", got.BuildID)
}

func TestSnapshotWriterKeepsNewest(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	w := SnapshotWriter{DB: s, Keep: 2}

	for i, id := range []string{"b-1", "b-2", "b-3"} {
		at := testNow.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		snap := topology.EmptySnapshot(testNow)
		snap.BuildID = id
		require.NoError(t, w.WriteSnapshot(ctx, snap))
	}
	require.NoError(t, w.Close())

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&count))
	assert.Equal(t, 2, count)

	got, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b-3", got.BuildID)
}
