package topology

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socgraph/internal/patterns"
	"socgraph/pkg/models"
)

func scenarioRecords() []*models.LogRecord {
	recent := testNow.Add(-30 * time.Minute)
	var recs []*models.LogRecord
	recs = append(recs,
		withNetwork(record("dc-1", "dc01", "LDAP bind succeeded; kerberos ticket granted", recent), "192.168.1.10", ""),
		withNetwork(record("db-1", "db01", "mysql service started", testNow.Add(-5*time.Hour)), "192.168.1.20", ""),
		withParsed(withNetwork(record("ws-1", "ws01", "user session opened", recent), "192.168.1.30", ""), "user", "administrator"),
	)
	for i := 1; i <= 60; i++ {
		r := withNetwork(record("ws-1", "ws01", "outbound flow", recent), "192.168.1.30", fmt.Sprintf("203.0.113.%d", i))
		r.NetworkInfo["direction"] = "outbound"
		recs = append(recs, r)
	}
	return recs
}

func buildScenario(t *testing.T) (*Builder, *Topology) {
	t.Helper()
	b := NewBuilder(&staticSource{records: scenarioRecords()}, patterns.Default(), Options{Now: fixedNow})
	topo, err := b.Build(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	return b, topo
}

func TestBuildScenarioThreeHosts(t *testing.T) {
	_, topo := buildScenario(t)

	assert.Equal(t, []string{"dc-1"}, topo.DomainControllers)
	assert.Equal(t, []string{"db-1"}, topo.Servers)

	dc := topo.Nodes["dc-1"]
	assert.Equal(t, RoleDomainController, dc.Role)
	assert.Equal(t, 12, dc.ImportanceScore)
	assert.Equal(t, ImportanceHigh, dc.Importance)

	db := topo.Nodes["db-1"]
	assert.Equal(t, "database_server", db.Role)
	assert.Equal(t, ImportanceMedium, db.Importance)

	// base 1 + one admin 2 + connectivity bonus 3
	ws := topo.Nodes["ws-1"]
	assert.Equal(t, RoleEndpoint, ws.Role)
	assert.Equal(t, 6, ws.ImportanceScore)
	assert.Equal(t, ImportanceMedium, ws.Importance)
	assert.Len(t, ws.OutboundConnections, 60)
	assert.NotContains(t, topo.DomainControllers, "ws-1")
	assert.NotContains(t, topo.HighValueTargets, "ws-1")

	assert.Equal(t, []string{"dc-1"}, topo.HighValueTargets)
	assert.Equal(t, [][]string{{"ws-1", "dc-1"}}, topo.AttackPaths)
	assert.Equal(t, map[string][]string{"192.168.1.0/24": {"dc-1", "db-1", "ws-1"}}, topo.Subnets)
	assert.Equal(t, map[string][]string{ZoneInternal: {"dc-1", "db-1", "ws-1"}}, topo.SecurityZones)

	assert.Equal(t, 3, topo.TotalNodes)
	assert.Equal(t, 2, topo.ActiveNodes)
	assert.Equal(t, testNow, topo.LastUpdated)
}

func TestClassificationIsIdempotent(t *testing.T) {
	_, topo := buildScenario(t)
	first := topo.Snapshot("")
	topo.Refresh(testNow)
	topo.Refresh(testNow)
	assert.Equal(t, first, topo.Snapshot(""))
}

func TestEvidenceSetsOnlyGrow(t *testing.T) {
	topo := New(patterns.Default())
	recs := []*models.LogRecord{
		withNetwork(record("a", "h1", "sshd accepted from 10.0.0.9", testNow), "10.0.0.5", ""),
		withParsed(record("a", "", "authentication ok for user dave", testNow), "user", "erin"),
		record("a", "h1", "mysql up", testNow),
		record("a", "h2", "nothing interesting", testNow),
		withNetwork(record("a", "", "flow", testNow), "10.0.0.6", "10.0.0.7"),
	}

	var prevIPs, prevSvcs, prevUsers []string
	for _, r := range recs {
		require.True(t, topo.Ingest(r, testNow))
		topo.Refresh(testNow)
		n := topo.Nodes["a"]
		assert.Subset(t, n.IPAddresses.Sorted(), prevIPs)
		assert.Subset(t, n.RunningServices.Sorted(), prevSvcs)
		assert.Subset(t, n.LoggedUsers.Sorted(), prevUsers)
		prevIPs, prevSvcs, prevUsers = n.IPAddresses.Sorted(), n.RunningServices.Sorted(), n.LoggedUsers.Sorted()
	}
	assert.Equal(t, []string{"10.0.0.5", "10.0.0.6", "10.0.0.9"}, prevIPs)
	assert.Equal(t, []string{"database", "ssh"}, prevSvcs)
	assert.Equal(t, []string{"dave", "erin"}, prevUsers)
	assert.Equal(t, "h2", topo.Nodes["a"].Hostname)
}

func TestRoleTieGoesToEarlierDeclaredRole(t *testing.T) {
	def := patterns.Definition{
		Services: []patterns.ServiceDef{{Name: "spool", Patterns: []string{`spool`}}},
		Roles: []patterns.RoleDef{
			{Name: "print_server", Weight: 4, Server: true, Patterns: []string{`spool`}},
			{Name: "scan_station", Weight: 3, Patterns: []string{`spool`}},
		},
	}
	swapped := def
	swapped.Roles = []patterns.RoleDef{def.Roles[1], def.Roles[0]}

	for _, tc := range []struct {
		def  patterns.Definition
		want string
	}{
		{def, "print_server"},
		{swapped, "scan_station"},
	} {
		lib := patterns.MustCompile(tc.def)
		for i := 0; i < 5; i++ {
			topo := New(lib)
			topo.Ingest(record("a", "host", "spool started", testNow), testNow)
			topo.Refresh(testNow)
			require.Equal(t, tc.want, topo.Nodes["a"].Role)
		}
	}
}

func TestRoleNeedsScoreOfTwo(t *testing.T) {
	topo := New(patterns.Default())
	// hostname alone gives +1 to mail_server
	topo.Ingest(record("a", "exchange-gw", "heartbeat", testNow), testNow)
	topo.Refresh(testNow)
	assert.Equal(t, RoleEndpoint, topo.Nodes["a"].Role)
}

func TestUnattributedRecordsAreSkipped(t *testing.T) {
	topo := New(patterns.Default())
	assert.False(t, topo.Ingest(record("", "h", "nmap", testNow), testNow))
	assert.False(t, topo.Ingest(nil, testNow))
	assert.Empty(t, topo.Nodes)
}

func TestRelationshipsFromDomainsAndConnections(t *testing.T) {
	topo := New(patterns.Default())
	topo.Ingest(withParsed(withNetwork(record("a", "ha", "flow", testNow), "192.168.1.1", "192.168.1.2"), "domain", "corp.local"), testNow)
	topo.Ingest(withParsed(withNetwork(record("b", "hb", "flow", testNow), "192.168.1.2", ""), "domain", "corp.local"), testNow)
	topo.Ingest(withParsed(record("c", "hc", "idle", testNow), "domain", "lab.local"), testNow)
	topo.Refresh(testNow)

	assert.Equal(t, [][2]string{{"a", "b"}, {"a", "b"}}, topo.TrustRelationships)
	assert.Equal(t, map[string][]string{"corp.local": {"a", "b"}, "lab.local": {"c"}}, topo.Domains)
}

func TestAttackPathEnumerationIsCapped(t *testing.T) {
	var recs []*models.LogRecord
	for i := 1; i <= 4; i++ {
		recs = append(recs,
			withNetwork(record(fmt.Sprintf("ext-%d", i), "", "heartbeat", testNow), fmt.Sprintf("8.8.8.%d", i), ""),
			withNetwork(record(fmt.Sprintf("dmz-%d", i), "", "heartbeat", testNow), fmt.Sprintf("172.20.0.%d", i), ""),
			withNetwork(record(fmt.Sprintf("int-%d", i), "", "heartbeat", testNow), fmt.Sprintf("192.168.5.%d", i), ""),
		)
	}
	for i := 1; i <= 3; i++ {
		recs = append(recs, withNetwork(record(fmt.Sprintf("dc-%d", i), "", "ldap kerberos", testNow), fmt.Sprintf("10.0.0.%d", i), ""))
	}

	b := NewBuilder(&staticSource{records: recs}, nil, Options{Now: fixedNow})
	topo, err := b.Build(context.Background(), 0)
	require.NoError(t, err)

	var long, direct int
	for _, p := range topo.AttackPaths {
		switch len(p) {
		case 4:
			long++
			assert.Equal(t, ZoneExternal, topo.Nodes[p[0]].SecurityZone)
			assert.Equal(t, ZoneDMZ, topo.Nodes[p[1]].SecurityZone)
			assert.Equal(t, ZoneInternal, topo.Nodes[p[2]].SecurityZone)
			assert.Equal(t, RoleDomainController, topo.Nodes[p[3]].Role)
		case 2:
			direct++
		}
	}
	assert.Equal(t, 3*3*3*2, long)
	assert.Equal(t, 3*3, direct)
	assert.NotContains(t, topo.DomainControllers[:2], "dc-3")
}

func TestMissingZonesContributeNoPaths(t *testing.T) {
	topo := New(patterns.Default())
	topo.Ingest(withNetwork(record("dc", "", "ldap", testNow), "192.168.1.1", ""), testNow)
	topo.Refresh(testNow)
	assert.Empty(t, topo.AttackPaths)
}

func TestBuildFetchFailureReturnsEmptyTopology(t *testing.T) {
	src := &staticSource{records: scenarioRecords()}
	rec := &fakeRecorder{}
	b := NewBuilder(src, patterns.Default(), Options{Now: fixedNow, Recorder: rec, Limit: 100})

	_, err := b.Build(context.Background(), time.Hour)
	require.NoError(t, err)
	published := b.Current()

	src.err = errors.New("database is locked")
	topo, err := b.Build(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, topo.TotalNodes)
	assert.Same(t, published, b.Current())

	require.Len(t, rec.calls, 2)
	assert.Equal(t, RebuildOK, rec.calls[0].result)
	assert.Equal(t, RebuildFetchError, rec.calls[1].result)
	assert.Equal(t, []int{100, 100}, src.limits)
	assert.Equal(t, []time.Duration{time.Hour, time.Hour}, src.windows)
}

func TestBuildCancellationKeepsPublishedTopology(t *testing.T) {
	b, _ := buildScenario(t)
	published := b.Current()
	require.Equal(t, 3, published.TotalNodes)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.source = &staticSource{records: []*models.LogRecord{record("other", "", "x", testNow)}}
	topo, err := b.Build(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, topo)
	assert.Same(t, published, b.Current())
}

func TestBuildRespectsLimit(t *testing.T) {
	recs := []*models.LogRecord{
		record("a", "", "x", testNow),
		record("b", "", "x", testNow),
		record("c", "", "x", testNow),
	}
	b := NewBuilder(&staticSource{records: recs}, nil, Options{Now: fixedNow, Limit: 2})
	topo, err := b.Build(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, topo.NodeIDs())
}

func TestReturnedTopologyIsNotMutatedByLiveIngest(t *testing.T) {
	b, topo := buildScenario(t)
	require.True(t, b.Ingest(record("late", "late01", "x", testNow)))
	snap := b.Refresh()

	assert.Equal(t, 4, snap.TotalNodes)
	assert.Equal(t, 3, topo.TotalNodes)
	_, ok := topo.Nodes["late"]
	assert.False(t, ok)
	assert.Same(t, snap, b.Current())
	assert.NotEmpty(t, snap.BuildID)
}

func TestRebuildFetchFailurePublishesNothing(t *testing.T) {
	src := &staticSource{records: scenarioRecords()}
	b := NewBuilder(src, patterns.Default(), Options{Now: fixedNow})
	first, err := b.Rebuild(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Equal(t, 3, first.TotalNodes)

	src.err = errors.New("connection refused")
	snap, err := b.Rebuild(context.Background(), time.Hour)
	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Nil(t, snap)
	assert.Same(t, first, b.Current())
}

func TestRebuildKeepsUnarchivedLiveRecords(t *testing.T) {
	b := NewBuilder(&staticSource{}, nil, Options{Now: fixedNow})
	live := record("live-1", "live01", "user session opened", testNow)
	require.True(t, b.Ingest(live))
	require.Equal(t, 1, b.Refresh().TotalNodes)

	snap, err := b.Rebuild(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Contains(t, snap.Nodes, "live-1")
	assert.Equal(t, 1, b.Pending())

	// once archived the source owns the record
	b.Archived([]*models.LogRecord{live})
	assert.Equal(t, 0, b.Pending())
	snap, err = b.Rebuild(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.NotContains(t, snap.Nodes, "live-1")
}

func TestRebuildReplaysRecordsIngestedDuringFetch(t *testing.T) {
	src := &staticSource{records: scenarioRecords()}
	b := NewBuilder(src, patterns.Default(), Options{Now: fixedNow})
	late := withNetwork(record("late", "late01", "user session opened", testNow), "192.168.1.40", "")
	src.onFetch = func() {
		require.True(t, b.Ingest(late))
		// archived before the fetch finished but not part of what it returned
		b.Archived([]*models.LogRecord{late})
	}

	snap, err := b.Rebuild(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.TotalNodes)
	assert.Contains(t, snap.Nodes, "late")
	assert.Equal(t, []string{"192.168.1.40"}, snap.Nodes["late"].IPAddresses)

	// live ingest after the swap lands on the rebuilt topology
	require.True(t, b.Ingest(record("after", "", "x", testNow)))
	assert.Equal(t, 5, b.Refresh().TotalNodes)
}

func TestReplayedRecordIsNotCountedTwice(t *testing.T) {
	rec := withNetwork(record("ws-9", "ws09", "user session opened", testNow), "192.168.1.90", "")
	b := NewBuilder(&staticSource{records: []*models.LogRecord{rec}}, nil, Options{Now: fixedNow})
	require.True(t, b.Ingest(rec))

	snap, err := b.Rebuild(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalNodes)
	assert.Equal(t, []string{"192.168.1.90"}, snap.Nodes["ws-9"].IPAddresses)
}

func TestPendingIsBoundedByLimit(t *testing.T) {
	b := NewBuilder(&staticSource{}, nil, Options{Now: fixedNow, Limit: 2})
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, b.Ingest(record(id, "", "x", testNow)))
	}
	assert.Equal(t, 2, b.Pending())

	snap, err := b.Rebuild(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.NotContains(t, snap.Nodes, "a")
	assert.Contains(t, snap.Nodes, "c")
}

func TestCurrentBeforeAnyBuildIsEmpty(t *testing.T) {
	b := NewBuilder(&staticSource{}, nil, Options{Now: fixedNow})
	snap := b.Current()
	assert.Equal(t, 0, snap.TotalNodes)
	assert.Empty(t, snap.Nodes)
}

func TestClassificationPanicKeepsPriorState(t *testing.T) {
	topo := New(patterns.Default())
	topo.Ingest(record("a", "h", "mysql", testNow), testNow)
	topo.Refresh(testNow)
	require.Equal(t, "database_server", topo.Nodes["a"].Role)

	// a nil classifier panics on every node
	topo.classifier = nil
	topo.Refresh(testNow)
	assert.Equal(t, "database_server", topo.Nodes["a"].Role)
	assert.Equal(t, []string{"a"}, topo.Servers)
}
