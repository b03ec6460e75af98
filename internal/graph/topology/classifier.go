package topology

import (
	"socgraph/internal/patterns"
)

// Classifier derives role and importance from a node's accumulated evidence.
// Both are pure functions of node state.
type Classifier struct {
	lib *patterns.Library
}

// NewClassifier creates a classifier backed by lib.
func NewClassifier(lib *patterns.Library) *Classifier {
	return &Classifier{lib: lib}
}

// Role picks the highest-scoring library role with a score of at least 2,
// earlier-declared roles winning ties, then applies service overrides.
func (c *Classifier) Role(n *NetworkNode) string {
	role := RoleEndpoint
	best := 1
	for _, rs := range c.lib.RoleScores(n.RunningServices.Sorted(), n.Hostname) {
		if rs.Score > best {
			best = rs.Score
			role = rs.Role
		}
	}
	if forced, ok := c.lib.Override(n.RunningServices.Has); ok {
		role = forced
	}
	return role
}

// Importance returns the weighted importance score and its level for a node
// holding the given role.
func (c *Classifier) Importance(n *NetworkNode, role string) (int, string) {
	score := c.lib.RoleWeight(role)
	for svc := range n.RunningServices {
		if c.lib.IsHighValueService(svc) {
			score++
		}
	}
	score += 2 * len(n.AdminUsers)

	switch conns := n.ConnectionCount(); {
	case conns > 50:
		score += 3
	case conns > 20:
		score += 2
	case conns > 10:
		score++
	}
	return score, importanceLevel(score)
}

func importanceLevel(score int) string {
	switch {
	case score >= 15:
		return ImportanceCritical
	case score >= 10:
		return ImportanceHigh
	case score >= 5:
		return ImportanceMedium
	default:
		return ImportanceLow
	}
}

// IsHighValue reports whether an importance level makes a node a high-value target.
func IsHighValue(importance string) bool {
	return importance == ImportanceHigh || importance == ImportanceCritical
}
