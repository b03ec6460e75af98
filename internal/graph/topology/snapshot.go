package topology

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeSnapshot is the serialized form of a NetworkNode. Sets become sorted lists.
type NodeSnapshot struct {
	AgentID             string    `json:"agent_id"`
	Hostname            string    `json:"hostname"`
	IPAddresses         []string  `json:"ip_addresses"`
	MACAddresses        []string  `json:"mac_addresses"`
	Platform            string    `json:"platform"`
	OSVersion           string    `json:"os_version"`
	Subnet              string    `json:"subnet,omitempty"`
	Domain              string    `json:"domain,omitempty"`
	SecurityZone        string    `json:"security_zone"`
	OpenPorts           []int     `json:"open_ports"`
	RunningServices     []string  `json:"running_services"`
	Role                string    `json:"role"`
	Importance          string    `json:"importance"`
	ImportanceScore     int       `json:"importance_score"`
	OutboundConnections []string  `json:"outbound_connections"`
	InboundConnections  []string  `json:"inbound_connections"`
	LoggedUsers         []string  `json:"logged_users"`
	AdminUsers          []string  `json:"admin_users"`
	VulnerabilityScore  float64   `json:"vulnerability_score"`
	LastActivity        time.Time `json:"last_activity"`
}

// Snapshot is the serialized, read-only form of a Topology.
type Snapshot struct {
	BuildID            string                   `json:"build_id,omitempty"`
	Nodes              map[string]*NodeSnapshot `json:"nodes"`
	Subnets            map[string][]string      `json:"subnets"`
	Domains            map[string][]string      `json:"domains"`
	SecurityZones      map[string][]string      `json:"security_zones"`
	TrustRelationships [][2]string              `json:"trust_relationships"`
	AttackPaths        [][]string               `json:"attack_paths"`
	DomainControllers  []string                 `json:"domain_controllers"`
	Servers            []string                 `json:"servers"`
	HighValueTargets   []string                 `json:"high_value_targets"`
	TotalNodes         int                      `json:"total_nodes"`
	ActiveNodes        int                      `json:"active_nodes"`
	LastUpdated        time.Time                `json:"last_updated"`
}

// Snapshot serializes the node.
func (n *NetworkNode) Snapshot() *NodeSnapshot {
	return &NodeSnapshot{
		AgentID:             n.AgentID,
		Hostname:            n.Hostname,
		IPAddresses:         n.IPAddresses.Sorted(),
		MACAddresses:        n.MACAddresses.Sorted(),
		Platform:            n.Platform,
		OSVersion:           n.OSVersion,
		Subnet:              n.Subnet,
		Domain:              n.Domain,
		SecurityZone:        n.SecurityZone,
		OpenPorts:           n.OpenPorts.Sorted(),
		RunningServices:     n.RunningServices.Sorted(),
		Role:                n.Role,
		Importance:          n.Importance,
		ImportanceScore:     n.ImportanceScore,
		OutboundConnections: n.OutboundConnections.Sorted(),
		InboundConnections:  n.InboundConnections.Sorted(),
		LoggedUsers:         n.LoggedUsers.Sorted(),
		AdminUsers:          n.AdminUsers.Sorted(),
		VulnerabilityScore:  n.VulnerabilityScore,
		LastActivity:        n.LastActivity.UTC(),
	}
}

// Snapshot serializes the topology. The result shares no memory with t.
func (t *Topology) Snapshot(buildID string) *Snapshot {
	s := &Snapshot{
		BuildID:            buildID,
		Nodes:              make(map[string]*NodeSnapshot, len(t.Nodes)),
		Subnets:            cloneIndex(t.Subnets),
		Domains:            cloneIndex(t.Domains),
		SecurityZones:      cloneIndex(t.SecurityZones),
		TrustRelationships: append([][2]string{}, t.TrustRelationships...),
		AttackPaths:        make([][]string, 0, len(t.AttackPaths)),
		DomainControllers:  append([]string{}, t.DomainControllers...),
		Servers:            append([]string{}, t.Servers...),
		HighValueTargets:   append([]string{}, t.HighValueTargets...),
		TotalNodes:         t.TotalNodes,
		ActiveNodes:        t.ActiveNodes,
		LastUpdated:        t.LastUpdated.UTC(),
	}
	for id, n := range t.Nodes {
		s.Nodes[id] = n.Snapshot()
	}
	for _, p := range t.AttackPaths {
		s.AttackPaths = append(s.AttackPaths, append([]string(nil), p...))
	}
	return s
}

// EmptySnapshot is the snapshot of a topology with no data.
func EmptySnapshot(now time.Time) *Snapshot {
	t := New(nil)
	t.Refresh(now)
	return t.Snapshot("")
}

// DecodeSnapshot parses a snapshot previously produced by json.Marshal.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode topology snapshot: %w", err)
	}
	if s.Nodes == nil {
		s.Nodes = make(map[string]*NodeSnapshot)
	}
	return &s, nil
}
