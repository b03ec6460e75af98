// Command topology-report prints ranked attack paths, the attack context of
// one agent, or per-host incidents from a saved topology snapshot.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"socgraph/internal/analyzer"
	"socgraph/internal/graph/topology"
	"socgraph/internal/output/snapshotjson"
	"socgraph/internal/store"
	"socgraph/pkg/models"
)

func main() {
	snapshotPath := flag.String("snapshot", "output/topology.json", "Snapshot JSON input path")
	dbPath := flag.String("db", "", "Load the latest snapshot from this SQLite store instead of -snapshot")
	agent := flag.String("agent", "", "Print the attack context for this agent id")
	assessments := flag.String("assessments", "", "Assessment JSONL input; prints per-host incidents")
	minScore := flag.Float64("min-score", 0.3, "Minimum assessment score counted into incidents")
	top := flag.Int("top", 20, "Maximum number of ranked paths or incidents to print (0 for all)")
	output := flag.String("output", "", "Also write the report as JSONL to this path")
	flag.Parse()

	snap, err := loadSnapshot(*snapshotPath, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load snapshot: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	switch {
	case strings.TrimSpace(*agent) != "":
		ac, err := snap.AttackContext(strings.TrimSpace(*agent))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v: %s\n", err, *agent)
			os.Exit(1)
		}
		if err := enc.Encode(ac); err != nil {
			os.Exit(1)
		}
	case strings.TrimSpace(*assessments) != "":
		items, err := loadAssessments(*assessments)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load assessments: %v\n", err)
			os.Exit(1)
		}
		incidents := limit(analyzer.BuildIncidents(items, snap, *minScore), *top)
		for _, inc := range incidents {
			fmt.Printf("[%s] %s (%s, %s) priority=%.2f assessments=%d types=%s\n",
				inc.Severity, inc.AgentID, inc.Hostname, inc.Role, inc.Priority, inc.AssessmentCount,
				strings.Join(inc.ThreatTypes, ","))
		}
		if err := writeJSONLines(*output, incidents); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write incidents: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("assessments=%d incidents=%d\n", len(items), len(incidents))
	default:
		ranked := limit(analyzer.RankAttackPaths(snap), *top)
		for i, p := range ranked {
			fmt.Printf("%2d. [%s] %s (target role=%s, risk=%.0f, hops=%d)\n",
				i+1, p.Severity, strings.Join(p.Path, " -> "), p.TargetRole, p.Score.RiskProduct, p.Score.Hops)
		}
		if err := writeJSONLines(*output, ranked); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write paths: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("nodes=%d paths=%d shown=%d\n", snap.TotalNodes, len(snap.AttackPaths), len(ranked))
	}
}

func loadSnapshot(path, dbPath string) (*topology.Snapshot, error) {
	if strings.TrimSpace(dbPath) == "" {
		return snapshotjson.Load(path)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.LatestSnapshot(context.Background())
}

func loadAssessments(path string) ([]*models.ThreatAssessment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*models.ThreatAssessment
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var a models.ThreatAssessment
		if err := json.Unmarshal([]byte(line), &a); err != nil {
			continue
		}
		out = append(out, &a)
	}
	return out, scanner.Err()
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func writeJSONLines[T any](path string, rows []T) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, item := range rows {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}
