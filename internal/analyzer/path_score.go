package analyzer

import (
	"sort"
	"strings"

	"socgraph/internal/graph/topology"
)

// PathScore captures how dangerous an attack path is.
type PathScore struct {
	Hops        int     `json:"hops"`
	RiskProduct float64 `json:"risk_product"`
	RiskSum     float64 `json:"risk_sum"`
}

// RankedPath is an attack path with its score and target description.
type RankedPath struct {
	Path       []string  `json:"path"`
	Entry      string    `json:"entry"`
	Target     string    `json:"target"`
	TargetRole string    `json:"target_role"`
	Score      PathScore `json:"score"`
	Severity   string    `json:"severity"`
}

var importanceWeight = map[string]float64{
	topology.ImportanceLow:      1,
	topology.ImportanceMedium:   2,
	topology.ImportanceHigh:     3,
	topology.ImportanceCritical: 4,
}

// RankAttackPaths scores every attack path of the snapshot. Paths are ordered
// by risk product, then by fewer hops, then by their ids.
func RankAttackPaths(snap *topology.Snapshot) []RankedPath {
	if snap == nil {
		return []RankedPath{}
	}
	out := make([]RankedPath, 0, len(snap.AttackPaths))
	for _, path := range snap.AttackPaths {
		if len(path) == 0 {
			continue
		}
		score := ScorePath(snap, path)
		target := path[len(path)-1]
		role := ""
		if n, ok := snap.Nodes[target]; ok {
			role = n.Role
		}
		out = append(out, RankedPath{
			Path:       append([]string(nil), path...),
			Entry:      path[0],
			Target:     target,
			TargetRole: role,
			Score:      score,
			Severity:   pathSeverity(score.Hops, score.RiskProduct),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score.RiskProduct != out[j].Score.RiskProduct {
			return out[i].Score.RiskProduct > out[j].Score.RiskProduct
		}
		if out[i].Score.Hops != out[j].Score.Hops {
			return out[i].Score.Hops < out[j].Score.Hops
		}
		return strings.Join(out[i].Path, ">") < strings.Join(out[j].Path, ">")
	})
	return out
}

// ScorePath multiplies and sums the importance weights of the path's nodes.
// Nodes missing from the snapshot weigh as low.
func ScorePath(snap *topology.Snapshot, path []string) PathScore {
	score := PathScore{Hops: len(path) - 1, RiskProduct: 1}
	if len(path) == 0 {
		return PathScore{}
	}
	for _, id := range path {
		w := 1.0
		if n, ok := snap.Nodes[id]; ok {
			if v, ok := importanceWeight[n.Importance]; ok {
				w = v
			}
		}
		score.RiskProduct *= w
		score.RiskSum += w
	}
	return score
}

func pathSeverity(hops int, riskProduct float64) string {
	if riskProduct >= 16 {
		return "critical"
	}
	if riskProduct >= 8 || hops >= 3 {
		return "high"
	}
	if riskProduct >= 4 {
		return "medium"
	}
	return "low"
}
