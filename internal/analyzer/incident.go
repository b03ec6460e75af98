package analyzer

import (
	"sort"
	"time"

	"socgraph/internal/graph/topology"
	"socgraph/pkg/models"
)

// Incident is a compact per-host output for SOC triage.
type Incident struct {
	AgentID         string         `json:"agent_id"`
	Hostname        string         `json:"hostname"`
	Role            string         `json:"role,omitempty"`
	Importance      string         `json:"importance,omitempty"`
	FirstSeen       time.Time      `json:"first_seen"`
	LastSeen        time.Time      `json:"last_seen"`
	AssessmentCount int            `json:"assessment_count"`
	MaxScore        float64        `json:"max_score"`
	ThreatTypes     []string       `json:"threat_types"`
	SeverityCounts  map[string]int `json:"severity_counts"`
	Priority        float64        `json:"priority"`
	Severity        string         `json:"severity"`
}

// BuildIncidents groups non-benign assessments by agent and weights each
// group by the host's importance in the snapshot. snap may be nil.
func BuildIncidents(assessments []*models.ThreatAssessment, snap *topology.Snapshot, minScore float64) []Incident {
	byAgent := make(map[string]*Incident)
	types := make(map[string]map[string]struct{})
	for _, a := range assessments {
		if a == nil || a.IsBenign() || a.ThreatScore < minScore {
			continue
		}
		key := a.AgentID
		if key == "" {
			key = a.Hostname
		}
		inc, ok := byAgent[key]
		if !ok {
			inc = &Incident{
				AgentID:        a.AgentID,
				Hostname:       a.Hostname,
				FirstSeen:      a.Timestamp,
				LastSeen:       a.Timestamp,
				SeverityCounts: make(map[string]int),
			}
			byAgent[key] = inc
			types[key] = make(map[string]struct{})
		}
		inc.AssessmentCount++
		inc.SeverityCounts[a.Severity]++
		if a.ThreatScore > inc.MaxScore {
			inc.MaxScore = a.ThreatScore
		}
		if a.Timestamp.Before(inc.FirstSeen) {
			inc.FirstSeen = a.Timestamp
		}
		if a.Timestamp.After(inc.LastSeen) {
			inc.LastSeen = a.Timestamp
		}
		if _, seen := types[key][a.ThreatType]; !seen {
			types[key][a.ThreatType] = struct{}{}
			inc.ThreatTypes = append(inc.ThreatTypes, a.ThreatType)
		}
	}

	out := make([]Incident, 0, len(byAgent))
	for _, inc := range byAgent {
		weight := 1.0
		if snap != nil {
			if n, ok := snap.Nodes[inc.AgentID]; ok {
				inc.Role = n.Role
				inc.Importance = n.Importance
				if inc.Hostname == "" {
					inc.Hostname = n.Hostname
				}
				if w, ok := importanceWeight[n.Importance]; ok {
					weight = w
				}
			}
		}
		sort.Strings(inc.ThreatTypes)
		inc.Priority = inc.MaxScore * weight
		inc.Severity = incidentSeverity(inc.AssessmentCount, inc.Priority)
		out = append(out, *inc)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].AssessmentCount != out[j].AssessmentCount {
			return out[i].AssessmentCount > out[j].AssessmentCount
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

func incidentSeverity(count int, priority float64) string {
	if priority >= 3 || (count >= 10 && priority >= 2) {
		return "critical"
	}
	if priority >= 2 || count >= 5 {
		return "high"
	}
	if priority >= 1 || count >= 2 {
		return "medium"
	}
	return "low"
}
