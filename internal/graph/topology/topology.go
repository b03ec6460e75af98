package topology

import (
	"fmt"
	"sort"
	"time"

	"socgraph/internal/patterns"
	"socgraph/pkg/models"
)

// DefaultActiveWindow is how recent last_activity must be for a node to count as active.
const DefaultActiveWindow = time.Hour

// Topology is the aggregate root of one build session. It is not safe for
// concurrent mutation; Builder serializes access to the instances it owns.
type Topology struct {
	lib        *patterns.Library
	extractor  *Extractor
	classifier *Classifier

	Nodes map[string]*NetworkNode
	order []string

	Subnets       map[string][]string
	Domains       map[string][]string
	SecurityZones map[string][]string

	TrustRelationships [][2]string
	AttackPaths        [][]string

	DomainControllers []string
	Servers           []string
	HighValueTargets  []string

	TotalNodes   int
	ActiveNodes  int
	LastUpdated  time.Time
	ActiveWindow time.Duration
}

// New creates an empty topology.
func New(lib *patterns.Library) *Topology {
	if lib == nil {
		lib = patterns.Default()
	}
	t := &Topology{
		lib:          lib,
		extractor:    NewExtractor(lib),
		classifier:   NewClassifier(lib),
		Nodes:        make(map[string]*NetworkNode),
		ActiveWindow: DefaultActiveWindow,
	}
	t.resetDerived()
	return t
}

// Ingest merges one record into its node, creating the node on first sight.
// Records without an agent id cannot be attributed and are skipped.
func (t *Topology) Ingest(rec *models.LogRecord, now time.Time) bool {
	f := t.extractor.Extract(rec)
	if f.AgentID == "" {
		return false
	}
	node, ok := t.Nodes[f.AgentID]
	if !ok {
		seen := f.Timestamp
		if seen.IsZero() {
			seen = now
		}
		node = NewNode(f.AgentID, seen)
		t.Nodes[f.AgentID] = node
		t.order = append(t.order, f.AgentID)
	}
	f.ApplyTo(node)
	return true
}

// Refresh re-derives every view from current node state: classification and
// grouping, relationships, attack paths, statistics. Derived views are
// cleared first so repeated refreshes are idempotent.
func (t *Topology) Refresh(now time.Time) {
	t.resetDerived()
	t.classify()
	t.discoverRelationships()
	t.calculateAttackPaths()
	t.updateStatistics(now)
}

// NodeIDs returns agent ids in first-seen order.
func (t *Topology) NodeIDs() []string {
	return append([]string(nil), t.order...)
}

// Node returns a node by agent id.
func (t *Topology) Node(agentID string) (*NetworkNode, bool) {
	n, ok := t.Nodes[agentID]
	return n, ok
}

// Clone returns a deep copy sharing only the immutable library.
func (t *Topology) Clone() *Topology {
	c := New(t.lib)
	c.ActiveWindow = t.ActiveWindow
	for _, id := range t.order {
		c.Nodes[id] = t.Nodes[id].Clone()
		c.order = append(c.order, id)
	}
	c.Subnets = cloneIndex(t.Subnets)
	c.Domains = cloneIndex(t.Domains)
	c.SecurityZones = cloneIndex(t.SecurityZones)
	c.TrustRelationships = append([][2]string(nil), t.TrustRelationships...)
	for _, p := range t.AttackPaths {
		c.AttackPaths = append(c.AttackPaths, append([]string(nil), p...))
	}
	c.DomainControllers = append([]string(nil), t.DomainControllers...)
	c.Servers = append([]string(nil), t.Servers...)
	c.HighValueTargets = append([]string(nil), t.HighValueTargets...)
	c.TotalNodes = t.TotalNodes
	c.ActiveNodes = t.ActiveNodes
	c.LastUpdated = t.LastUpdated
	return c
}

func (t *Topology) resetDerived() {
	t.Subnets = make(map[string][]string)
	t.Domains = make(map[string][]string)
	t.SecurityZones = make(map[string][]string)
	t.TrustRelationships = nil
	t.AttackPaths = nil
	t.DomainControllers = nil
	t.Servers = nil
	t.HighValueTargets = nil
}

func (t *Topology) classify() {
	for _, id := range t.order {
		node := t.Nodes[id]
		if err := t.classifyNode(node); err != nil {
			log.Warnf("keep prior classification for %s: %v", id, err)
		}

		if node.Subnet != "" {
			t.Subnets[node.Subnet] = append(t.Subnets[node.Subnet], id)
		}
		if node.Domain != "" {
			t.Domains[node.Domain] = append(t.Domains[node.Domain], id)
		}
		t.SecurityZones[node.SecurityZone] = append(t.SecurityZones[node.SecurityZone], id)

		if node.Role == RoleDomainController {
			t.DomainControllers = append(t.DomainControllers, id)
		} else if t.lib.IsServerRole(node.Role) {
			t.Servers = append(t.Servers, id)
		}
		if IsHighValue(node.Importance) {
			t.HighValueTargets = append(t.HighValueTargets, id)
		}
	}
}

// classifyNode assigns role and importance together or not at all.
func (t *Topology) classifyNode(node *NetworkNode) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classification panic: %v", r)
		}
	}()
	role := t.classifier.Role(node)
	score, level := t.classifier.Importance(node, role)
	node.Role = role
	node.ImportanceScore = score
	node.Importance = level
	return nil
}

func (t *Topology) updateStatistics(now time.Time) {
	t.TotalNodes = len(t.Nodes)
	window := t.ActiveWindow
	if window <= 0 {
		window = DefaultActiveWindow
	}
	cutoff := now.Add(-window)
	t.ActiveNodes = 0
	for _, node := range t.Nodes {
		if node.LastActivity.After(cutoff) {
			t.ActiveNodes++
		}
	}
	t.LastUpdated = now
}

func cloneIndex(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
