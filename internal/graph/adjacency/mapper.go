package adjacency

import (
	"fmt"
	"strings"

	"socgraph/internal/graph/topology"
	"socgraph/pkg/models"
)

const (
	recordVertex = "vertex"
	recordEdge   = "edge"
)

// Mapper converts topology snapshots into adjacency rows.
type Mapper struct {
	writeVertexRows bool
	includeEdgeData bool
}

// MapperOptions controls mapper output size and fidelity.
type MapperOptions struct {
	WriteVertexRows bool
	IncludeEdgeData bool
}

// NewMapper creates a mapper.
func NewMapper(opts MapperOptions) *Mapper {
	return &Mapper{
		writeVertexRows: opts.WriteVertexRows,
		includeEdgeData: opts.IncludeEdgeData,
	}
}

// Map converts a snapshot into rows. Hosts are emitted in agent id order,
// followed by trust edges and attack path steps in topology order.
func (m *Mapper) Map(snap *topology.Snapshot) []*models.AdjacencyRow {
	if snap == nil {
		return nil
	}
	var rows []*models.AdjacencyRow
	seen := make(map[string]bool)

	for _, id := range snap.AgentIDs() {
		rows = append(rows, m.mapHost(snap, snap.Nodes[id], seen)...)
	}

	for _, rel := range snap.TrustRelationships {
		from, to := snap.Nodes[rel[0]], snap.Nodes[rel[1]]
		if from == nil || to == nil {
			continue
		}
		rows = append(rows, m.edgeRow(snap, "TrustEdge", hostVertexID(from.AgentID), hostVertexID(to.AgentID), from, nil))
	}

	for i, path := range snap.AttackPaths {
		for step := 0; step+1 < len(path); step++ {
			from, to := snap.Nodes[path[step]], snap.Nodes[path[step+1]]
			if from == nil || to == nil {
				continue
			}
			rows = append(rows, m.edgeRow(snap, "AttackStepEdge", hostVertexID(from.AgentID), hostVertexID(to.AgentID), from, map[string]interface{}{
				"path_index": i,
				"step":       step,
				"hops":       len(path) - 1,
			}))
		}
	}
	return rows
}

func (m *Mapper) mapHost(snap *topology.Snapshot, node *topology.NodeSnapshot, seen map[string]bool) []*models.AdjacencyRow {
	if node == nil {
		return nil
	}
	hostID := hostVertexID(node.AgentID)
	rows := make([]*models.AdjacencyRow, 0, 6)

	if m.writeVertexRows {
		rows = append(rows, vertexRow(snap, "HostVertex", hostID, node, map[string]interface{}{
			"role":                node.Role,
			"importance":          node.Importance,
			"security_zone":       node.SecurityZone,
			"ip_addresses":        node.IPAddresses,
			"running_services":    node.RunningServices,
			"vulnerability_score": node.VulnerabilityScore,
		}))
	}

	if subnetID := subnetVertexID(node.Subnet); subnetID != "" {
		if m.writeVertexRows && !seen[subnetID] {
			seen[subnetID] = true
			rows = append(rows, vertexRow(snap, "SubnetVertex", subnetID, node, map[string]interface{}{"cidr": node.Subnet}))
		}
		rows = append(rows, m.edgeRow(snap, "MemberOfEdge", hostID, subnetID, node, nil))
	}

	if zoneID := zoneVertexID(node.SecurityZone); zoneID != "" {
		if m.writeVertexRows && !seen[zoneID] {
			seen[zoneID] = true
			rows = append(rows, vertexRow(snap, "ZoneVertex", zoneID, node, nil))
		}
		rows = append(rows, m.edgeRow(snap, "InZoneEdge", hostID, zoneID, node, nil))
	}

	if domainID := domainVertexID(node.Domain); domainID != "" {
		if m.writeVertexRows && !seen[domainID] {
			seen[domainID] = true
			rows = append(rows, vertexRow(snap, "DomainVertex", domainID, node, nil))
		}
		rows = append(rows, m.edgeRow(snap, "InDomainEdge", hostID, domainID, node, nil))
	}
	return rows
}

func vertexRow(snap *topology.Snapshot, rowType, vertexID string, node *topology.NodeSnapshot, data map[string]interface{}) *models.AdjacencyRow {
	return baseRow(snap, recordVertex, rowType, vertexID, "", node, data)
}

func (m *Mapper) edgeRow(snap *topology.Snapshot, rowType, vertexID, adjacentID string, node *topology.NodeSnapshot, data map[string]interface{}) *models.AdjacencyRow {
	if !m.includeEdgeData && rowType != "AttackStepEdge" {
		data = nil
	}
	if m.includeEdgeData && data == nil {
		data = map[string]interface{}{
			"role":       node.Role,
			"importance": node.Importance,
		}
	}
	return baseRow(snap, recordEdge, rowType, vertexID, adjacentID, node, data)
}

func baseRow(snap *topology.Snapshot, recordType, rowType, vertexID, adjacentID string, node *topology.NodeSnapshot, data map[string]interface{}) *models.AdjacencyRow {
	return &models.AdjacencyRow{
		Timestamp:  snap.LastUpdated,
		BuildID:    snap.BuildID,
		RecordType: recordType,
		Type:       rowType,
		VertexID:   vertexID,
		AdjacentID: adjacentID,
		AgentID:    node.AgentID,
		Hostname:   node.Hostname,
		Data:       data,
	}
}

func hostVertexID(agentID string) string {
	return fmt.Sprintf("host:%s", strings.ToLower(agentID))
}

func subnetVertexID(cidr string) string {
	if cidr == "" {
		return ""
	}
	return fmt.Sprintf("subnet:%s", cidr)
}

func zoneVertexID(zone string) string {
	if zone == "" || zone == topology.ZoneUnknown {
		return ""
	}
	return fmt.Sprintf("zone:%s", strings.ToLower(zone))
}

func domainVertexID(domain string) string {
	if domain == "" {
		return ""
	}
	return fmt.Sprintf("domain:%s", strings.ToLower(domain))
}
