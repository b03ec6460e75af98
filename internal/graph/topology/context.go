package topology

import (
	"errors"
	"sort"
	"time"
)

// ErrAgentNotFound is returned for an agent id absent from the topology.
var ErrAgentNotFound = errors.New("agent not found in topology")

// vulnerableThreshold is the vulnerability score above which a node's services are exported.
const vulnerableThreshold = 0.3

// AttackContext is everything an operator planning from one agent can reach.
type AttackContext struct {
	Agent                     *NodeSnapshot `json:"agent_context"`
	SameSubnetTargets         []string      `json:"same_subnet_targets"`
	ReachableHighValueTargets []string      `json:"reachable_high_value_targets"`
	DomainControllers         []string      `json:"domain_controllers"`
	AttackPaths               [][]string    `json:"attack_paths"`
	TrustRelationships        [][2]string   `json:"trust_relationships"`
}

// AttackContext returns the attack context for one agent.
func (s *Snapshot) AttackContext(agentID string) (*AttackContext, error) {
	node, ok := s.Nodes[agentID]
	if !ok {
		return nil, ErrAgentNotFound
	}

	out := &AttackContext{
		Agent:                     node,
		SameSubnetTargets:         []string{},
		ReachableHighValueTargets: []string{},
		DomainControllers:         append([]string{}, s.DomainControllers...),
		AttackPaths:               [][]string{},
		TrustRelationships:        [][2]string{},
	}

	if node.Subnet != "" {
		for _, id := range s.Subnets[node.Subnet] {
			if id != agentID {
				out.SameSubnetTargets = append(out.SameSubnetTargets, id)
			}
		}
	}

	outbound := make(map[string]struct{}, len(node.OutboundConnections))
	for _, ip := range node.OutboundConnections {
		outbound[ip] = struct{}{}
	}
	for _, id := range s.HighValueTargets {
		hvt, ok := s.Nodes[id]
		if !ok || id == agentID {
			continue
		}
		if (node.Subnet != "" && hvt.Subnet == node.Subnet) || anyIn(hvt.IPAddresses, outbound) {
			out.ReachableHighValueTargets = append(out.ReachableHighValueTargets, id)
		}
	}

	for _, path := range s.AttackPaths {
		if contains(path, agentID) {
			out.AttackPaths = append(out.AttackPaths, append([]string(nil), path...))
		}
	}
	for _, rel := range s.TrustRelationships {
		if rel[0] == agentID || rel[1] == agentID {
			out.TrustRelationships = append(out.TrustRelationships, rel)
		}
	}
	return out, nil
}

// TargetDetail pairs an agent id with its node snapshot.
type TargetDetail struct {
	AgentID string        `json:"agent_id"`
	Details *NodeSnapshot `json:"details"`
}

// VulnerableServices lists the services of a node whose vulnerability score is elevated.
type VulnerableServices struct {
	AgentID            string   `json:"agent_id"`
	Services           []string `json:"services"`
	VulnerabilityScore float64  `json:"vulnerability_score"`
}

// AttackIntelligence is the planning-oriented view of a topology.
type AttackIntelligence struct {
	HighValueTargets   []TargetDetail       `json:"high_value_targets"`
	DomainControllers  []TargetDetail       `json:"domain_controllers"`
	AttackPaths        [][]string           `json:"attack_paths"`
	VulnerableServices []VulnerableServices `json:"vulnerable_services"`
}

// NetworkStatistics summarizes a topology.
type NetworkStatistics struct {
	TotalNodes            int       `json:"total_nodes"`
	ActiveNodes           int       `json:"active_nodes"`
	SubnetsCount          int       `json:"subnets_count"`
	DomainsCount          int       `json:"domains_count"`
	HighValueTargetsCount int       `json:"high_value_targets_count"`
	LastUpdated           time.Time `json:"last_updated"`
}

// AttackPlanningExport is the full export consumed by attack planners.
type AttackPlanningExport struct {
	Topology     *Snapshot          `json:"network_topology"`
	Intelligence AttackIntelligence `json:"attack_intelligence"`
	Statistics   NetworkStatistics  `json:"network_statistics"`
}

// AttackPlanning builds the attack-planning export. Vulnerable services follow agent id order.
func (s *Snapshot) AttackPlanning() *AttackPlanningExport {
	out := &AttackPlanningExport{
		Topology: s,
		Intelligence: AttackIntelligence{
			HighValueTargets:   details(s, s.HighValueTargets),
			DomainControllers:  details(s, s.DomainControllers),
			AttackPaths:        s.AttackPaths,
			VulnerableServices: []VulnerableServices{},
		},
		Statistics: NetworkStatistics{
			TotalNodes:            s.TotalNodes,
			ActiveNodes:           s.ActiveNodes,
			SubnetsCount:          len(s.Subnets),
			DomainsCount:          len(s.Domains),
			HighValueTargetsCount: len(s.HighValueTargets),
			LastUpdated:           s.LastUpdated,
		},
	}
	for _, id := range s.AgentIDs() {
		n := s.Nodes[id]
		if n.VulnerabilityScore > vulnerableThreshold {
			out.Intelligence.VulnerableServices = append(out.Intelligence.VulnerableServices, VulnerableServices{
				AgentID:            id,
				Services:           append([]string{}, n.RunningServices...),
				VulnerabilityScore: n.VulnerabilityScore,
			})
		}
	}
	return out
}

// AgentIDs returns the node ids in ascending order.
func (s *Snapshot) AgentIDs() []string {
	ids := make([]string, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func details(s *Snapshot, ids []string) []TargetDetail {
	out := make([]TargetDetail, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.Nodes[id]; ok {
			out = append(out, TargetDetail{AgentID: id, Details: n})
		}
	}
	return out
}

func anyIn(values []string, set map[string]struct{}) bool {
	for _, v := range values {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
