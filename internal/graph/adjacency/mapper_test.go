package adjacency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socgraph/internal/graph/topology"
	"socgraph/pkg/models"
)

func testSnapshot() *topology.Snapshot {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	topo := topology.New(nil)
	mk := func(agent, host, msg, ip, domain string) *models.LogRecord {
		return &models.LogRecord{
			AgentID:     agent,
			Message:     msg,
			Timestamp:   now,
			ParsedData:  map[string]interface{}{"hostname": host, "domain": domain},
			NetworkInfo: map[string]interface{}{"source_ip": ip},
		}
	}
	topo.Ingest(mk("dc", "DC01", "ldap kerberos", "192.168.1.1", "corp.local"), now)
	topo.Ingest(mk("ws", "WS01", "idle", "192.168.1.2", "corp.local"), now)
	topo.Refresh(now)
	return topo.Snapshot("b-1")
}

func countTypes(rows []*models.AdjacencyRow) map[string]int {
	out := map[string]int{}
	for _, r := range rows {
		out[r.Type]++
	}
	return out
}

func TestMapEmitsEdgesWithoutVertexRowsByDefault(t *testing.T) {
	rows := NewMapper(MapperOptions{}).Map(testSnapshot())
	counts := countTypes(rows)

	assert.Equal(t, 2, counts["MemberOfEdge"])
	assert.Equal(t, 2, counts["InZoneEdge"])
	assert.Equal(t, 2, counts["InDomainEdge"])
	assert.Equal(t, 1, counts["TrustEdge"])
	assert.Equal(t, 1, counts["AttackStepEdge"])
	assert.Zero(t, counts["HostVertex"])

	for _, r := range rows {
		assert.Equal(t, recordEdge, r.RecordType)
		assert.Equal(t, "b-1", r.BuildID)
	}
}

func TestMapVertexRowsAreDeduplicated(t *testing.T) {
	rows := NewMapper(MapperOptions{WriteVertexRows: true, IncludeEdgeData: true}).Map(testSnapshot())
	counts := countTypes(rows)

	assert.Equal(t, 2, counts["HostVertex"])
	assert.Equal(t, 1, counts["SubnetVertex"])
	assert.Equal(t, 1, counts["ZoneVertex"])
	assert.Equal(t, 1, counts["DomainVertex"])

	var step *models.AdjacencyRow
	for _, r := range rows {
		if r.Type == "AttackStepEdge" {
			step = r
		}
	}
	require.NotNil(t, step)
	assert.Equal(t, "host:ws", step.VertexID)
	assert.Equal(t, "host:dc", step.AdjacentID)
	assert.Equal(t, 0, step.Data["step"])
	assert.Equal(t, 1, step.Data["hops"])
}

func TestMapNilSnapshot(t *testing.T) {
	assert.Nil(t, NewMapper(MapperOptions{}).Map(nil))
}
