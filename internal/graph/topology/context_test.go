package topology

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socgraph/internal/patterns"
)

func TestSnapshotSortsSetsAndRoundTrips(t *testing.T) {
	_, topo := buildScenario(t)
	snap := topo.Snapshot("build-1")

	ws := snap.Nodes["ws-1"]
	require.NotNil(t, ws)
	assert.Equal(t, "203.0.113.1", ws.OutboundConnections[0])
	assert.Equal(t, []string{"administrator"}, ws.AdminUsers)
	assert.Equal(t, []string{"192.168.1.30"}, ws.IPAddresses)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_updated":"2026-03-04T12:00:00Z"`)

	back, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, snap.HighValueTargets, back.HighValueTargets)
	assert.Equal(t, snap.AttackPaths, back.AttackPaths)
	assert.True(t, snap.LastUpdated.Equal(back.LastUpdated))
}

func TestAttackContextForAgent(t *testing.T) {
	_, topo := buildScenario(t)
	snap := topo.Snapshot("")

	ac, err := snap.AttackContext("ws-1")
	require.NoError(t, err)
	assert.Equal(t, "ws-1", ac.Agent.AgentID)
	assert.Equal(t, []string{"dc-1", "db-1"}, ac.SameSubnetTargets)
	assert.Equal(t, []string{"dc-1"}, ac.ReachableHighValueTargets)
	assert.Equal(t, []string{"dc-1"}, ac.DomainControllers)
	assert.Equal(t, [][]string{{"ws-1", "dc-1"}}, ac.AttackPaths)
	assert.Empty(t, ac.TrustRelationships)

	_, err = snap.AttackContext("nope")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestAttackContextReachesTargetsThroughOutboundConnections(t *testing.T) {
	topo := New(patterns.Default())
	topo.Ingest(withNetwork(record("dc", "dc01", "ldap kerberos", testNow), "10.9.9.9", ""), testNow)
	topo.Ingest(withNetwork(record("ws", "ws01", "flow", testNow), "192.168.7.7", "10.9.9.9"), testNow)
	topo.Refresh(testNow)

	ac, err := topo.Snapshot("").AttackContext("ws")
	require.NoError(t, err)
	assert.Equal(t, []string{"dc"}, ac.ReachableHighValueTargets)
	assert.Empty(t, ac.SameSubnetTargets)
	assert.Equal(t, [][2]string{{"ws", "dc"}}, ac.TrustRelationships)
}

func TestAttackPlanningExport(t *testing.T) {
	topo := New(patterns.Default())
	topo.Ingest(withNetwork(record("dc", "dc01", "ldap kerberos", testNow), "192.168.1.1", ""), testNow)
	topo.Ingest(record("ws", "ws01", "failed login: access denied, blocked, suspicious", testNow), testNow)
	topo.Ingest(record("quiet", "q01", "failed", testNow), testNow)
	topo.Refresh(testNow)

	export := topo.Snapshot("").AttackPlanning()
	require.Len(t, export.Intelligence.HighValueTargets, 1)
	assert.Equal(t, "dc", export.Intelligence.HighValueTargets[0].AgentID)
	require.Len(t, export.Intelligence.DomainControllers, 1)

	require.Len(t, export.Intelligence.VulnerableServices, 1)
	vuln := export.Intelligence.VulnerableServices[0]
	assert.Equal(t, "ws", vuln.AgentID)
	assert.InDelta(t, 0.4, vuln.VulnerabilityScore, 1e-9)

	assert.Equal(t, 3, export.Statistics.TotalNodes)
	assert.Equal(t, 3, export.Statistics.ActiveNodes)
	assert.Equal(t, 1, export.Statistics.SubnetsCount)
	assert.Equal(t, 0, export.Statistics.DomainsCount)
	assert.Equal(t, 1, export.Statistics.HighValueTargetsCount)
	assert.Equal(t, testNow, export.Statistics.LastUpdated)
}
