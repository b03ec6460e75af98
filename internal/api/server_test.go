package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socgraph/internal/analyzer"
	"socgraph/internal/graph/topology"
)

type staticProvider struct {
	snap *topology.Snapshot
}

func (p staticProvider) Current() *topology.Snapshot { return p.snap }

func testSnapshot() *topology.Snapshot {
	return &topology.Snapshot{
		BuildID: "b-1",
		Nodes: map[string]*topology.NodeSnapshot{
			"ws-1":  {AgentID: "ws-1", Hostname: "ws01", Subnet: "192.168.1.0/24", Role: "workstation", Importance: "low"},
			"dc-1":  {AgentID: "dc-1", Hostname: "dc01", Subnet: "192.168.1.0/24", Role: "domain_controller", Importance: "critical"},
			"web-1": {AgentID: "web-1", Hostname: "web01", Subnet: "10.0.0.0/24", Role: "web_server", Importance: "medium"},
		},
		Subnets:           map[string][]string{"192.168.1.0/24": {"ws-1", "dc-1"}, "10.0.0.0/24": {"web-1"}},
		AttackPaths:       [][]string{{"ws-1", "web-1"}, {"ws-1", "dc-1"}},
		DomainControllers: []string{"dc-1"},
		HighValueTargets:  []string{"dc-1"},
		TotalNodes:        3,
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "socgraph_test_total"}))
	srv := httptest.NewServer(NewServer(staticProvider{snap: testSnapshot()}, Options{Gatherer: reg}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetTopology(t *testing.T) {
	srv := newTestServer(t)

	var snap topology.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/topology/", &snap))
	assert.Equal(t, "b-1", snap.BuildID)
	assert.Equal(t, 3, snap.TotalNodes)
}

func TestGetAttackPlanning(t *testing.T) {
	srv := newTestServer(t)

	var export topology.AttackPlanningExport
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/topology/attack-planning", &export))
	require.Len(t, export.Intelligence.DomainControllers, 1)
	assert.Equal(t, "dc-1", export.Intelligence.DomainControllers[0].AgentID)
	assert.Equal(t, 3, export.Statistics.TotalNodes)
}

func TestGetAttackPathsRankedAndLimited(t *testing.T) {
	srv := newTestServer(t)

	var ranked []analyzer.RankedPath
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/topology/attack-paths", &ranked))
	require.Len(t, ranked, 2)
	assert.Equal(t, []string{"ws-1", "dc-1"}, ranked[0].Path)

	ranked = nil
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/topology/attack-paths?limit=1", &ranked))
	assert.Len(t, ranked, 1)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/topology/attack-paths?limit=-2", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/topology/attack-paths?limit=x", nil))
}

func TestGetNode(t *testing.T) {
	srv := newTestServer(t)

	var node topology.NodeSnapshot
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/topology/nodes/dc-1", &node))
	assert.Equal(t, "dc01", node.Hostname)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/topology/nodes/missing", nil))
}

func TestGetAttackContext(t *testing.T) {
	srv := newTestServer(t)

	var ac topology.AttackContext
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/topology/nodes/ws-1/context", &ac))
	assert.Equal(t, []string{"dc-1"}, ac.SameSubnetTargets)
	assert.Equal(t, []string{"dc-1"}, ac.ReachableHighValueTargets)
	assert.Len(t, ac.AttackPaths, 2)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/topology/nodes/missing/context", nil))
}
