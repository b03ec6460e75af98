package topology

import (
	"sort"
	"time"
)

// Role names used outside the pattern library.
const (
	RoleEndpoint         = "endpoint"
	RoleDomainController = "domain_controller"
)

// Importance levels.
const (
	ImportanceLow      = "low"
	ImportanceMedium   = "medium"
	ImportanceHigh     = "high"
	ImportanceCritical = "critical"
)

// Security zones.
const (
	ZoneInternal  = "internal"
	ZoneCorporate = "corporate"
	ZoneDMZ       = "dmz"
	ZoneExternal  = "external"
	ZoneUnknown   = "unknown"
)

// StringSet is an unordered set of strings.
type StringSet map[string]struct{}

// Add inserts v and reports whether it was new.
func (s StringSet) Add(v string) bool {
	if _, ok := s[v]; ok {
		return false
	}
	s[v] = struct{}{}
	return true
}

// Has reports membership.
func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members in ascending order.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) clone() StringSet {
	out := make(StringSet, len(s))
	for v := range s {
		out[v] = struct{}{}
	}
	return out
}

// IntSet is an unordered set of ints.
type IntSet map[int]struct{}

// Add inserts v and reports whether it was new.
func (s IntSet) Add(v int) bool {
	if _, ok := s[v]; ok {
		return false
	}
	s[v] = struct{}{}
	return true
}

// Sorted returns the members in ascending order.
func (s IntSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// NetworkNode is one discovered host. Evidence sets only grow within a
// topology; Role and Importance are re-derived on every classification pass.
type NetworkNode struct {
	AgentID   string
	Hostname  string
	Platform  string
	OSVersion string

	IPAddresses  StringSet
	MACAddresses StringSet
	Subnet       string
	Domain       string
	SecurityZone string

	OpenPorts       IntSet
	RunningServices StringSet

	Role            string
	Importance      string
	ImportanceScore int

	OutboundConnections StringSet
	InboundConnections  StringSet

	LoggedUsers StringSet
	AdminUsers  StringSet

	VulnerabilityScore float64
	LastActivity       time.Time
}

// NewNode creates an empty node with default classification.
func NewNode(agentID string, seen time.Time) *NetworkNode {
	return &NetworkNode{
		AgentID:             agentID,
		Hostname:            "agent-" + agentID,
		Platform:            "unknown",
		OSVersion:           "unknown",
		IPAddresses:         make(StringSet),
		MACAddresses:        make(StringSet),
		SecurityZone:        ZoneUnknown,
		OpenPorts:           make(IntSet),
		RunningServices:     make(StringSet),
		Role:                RoleEndpoint,
		Importance:          ImportanceLow,
		OutboundConnections: make(StringSet),
		InboundConnections:  make(StringSet),
		LoggedUsers:         make(StringSet),
		AdminUsers:          make(StringSet),
		LastActivity:        seen,
	}
}

// ConnectionCount is the number of distinct inbound plus outbound peers.
func (n *NetworkNode) ConnectionCount() int {
	return len(n.OutboundConnections) + len(n.InboundConnections)
}

// Clone returns a deep copy.
func (n *NetworkNode) Clone() *NetworkNode {
	c := *n
	c.IPAddresses = n.IPAddresses.clone()
	c.MACAddresses = n.MACAddresses.clone()
	c.RunningServices = n.RunningServices.clone()
	c.OutboundConnections = n.OutboundConnections.clone()
	c.InboundConnections = n.InboundConnections.clone()
	c.LoggedUsers = n.LoggedUsers.clone()
	c.AdminUsers = n.AdminUsers.clone()
	c.OpenPorts = make(IntSet, len(n.OpenPorts))
	for p := range n.OpenPorts {
		c.OpenPorts[p] = struct{}{}
	}
	return &c
}
