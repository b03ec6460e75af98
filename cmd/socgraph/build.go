package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"socgraph/internal/analyzer"
	"socgraph/internal/graph/adjacency"
	"socgraph/internal/graph/topology"
	"socgraph/internal/output/snapshotjson"
	"socgraph/internal/output/topologyjson"
	"socgraph/internal/store"
)

var (
	buildWindow   time.Duration
	buildSnapshot string
	buildRows     string
	buildNoStore  bool
	buildTopPaths int
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild the topology once from the configured log source",
	Long: `Reads the lookback window from the log source, builds the topology and
prints a summary with the highest-risk attack paths. The snapshot is saved to
the SQLite store unless --no-store is given.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().DurationVar(&buildWindow, "window", 0, "lookback window (default from config)")
	buildCmd.Flags().StringVar(&buildSnapshot, "snapshot", "", "write the snapshot JSON to this path")
	buildCmd.Flags().StringVar(&buildRows, "rows", "", "append adjacency rows to this JSONL path")
	buildCmd.Flags().BoolVar(&buildNoStore, "no-store", false, "do not save the snapshot to the store")
	buildCmd.Flags().IntVar(&buildTopPaths, "top", 10, "number of ranked attack paths to print")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	lib, err := loadLibrary(cfg)
	if err != nil {
		return err
	}

	window := buildWindow
	if window <= 0 {
		window = cfg.LogSource.Window
	}
	builder := newBuilder(cfg, st.logs, lib, nil)
	snap, err := buildAndSave(ctx, builder, st.db, window)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), snap, buildTopPaths)
	return nil
}

// buildAndSave rebuilds once and writes the new snapshot to the store and the
// optional snapshot and row files. A failed fetch writes nothing, so the
// stored latest snapshot survives an unavailable log source.
func buildAndSave(ctx context.Context, builder *topology.Builder, db *store.SQLite, window time.Duration) (*topology.Snapshot, error) {
	snap, err := builder.Rebuild(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("build topology: %w", err)
	}
	if err := saveBuild(ctx, db, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func saveBuild(ctx context.Context, db *store.SQLite, snap *topology.Snapshot) error {
	if !buildNoStore {
		w := store.SnapshotWriter{DB: db, Keep: cfg.Store.SQLite.KeepSnapshots}
		if err := w.WriteSnapshot(ctx, snap); err != nil {
			return err
		}
	}
	if buildSnapshot != "" {
		if err := writeSnapshotFile(ctx, buildSnapshot, snap); err != nil {
			return err
		}
	}
	if buildRows != "" {
		if err := writeRowsFile(ctx, buildRows, snap); err != nil {
			return err
		}
	}
	return nil
}

func writeSnapshotFile(ctx context.Context, path string, snap *topology.Snapshot) error {
	w, err := snapshotjson.NewWriter(path)
	if err != nil {
		return err
	}
	defer w.Close()
	return w.WriteSnapshot(ctx, snap)
}

func writeRowsFile(ctx context.Context, path string, snap *topology.Snapshot) error {
	mapper := adjacency.NewMapper(adjacency.MapperOptions{
		WriteVertexRows: true,
		IncludeEdgeData: cfg.Output.Topology.IncludeEdgeData,
	})
	w, err := topologyjson.NewWriter(path, mapper)
	if err != nil {
		return err
	}
	defer w.Close()
	return w.WriteSnapshot(ctx, snap)
}

func printSummary(out io.Writer, snap *topology.Snapshot, top int) {
	fmt.Fprintf(out, "build=%s nodes=%d active=%d subnets=%d domains=%d dcs=%d servers=%d hvts=%d paths=%d\n",
		snap.BuildID, snap.TotalNodes, snap.ActiveNodes, len(snap.Subnets), len(snap.Domains),
		len(snap.DomainControllers), len(snap.Servers), len(snap.HighValueTargets), len(snap.AttackPaths))

	ranked := analyzer.RankAttackPaths(snap)
	if top >= 0 && len(ranked) > top {
		ranked = ranked[:top]
	}
	for i, p := range ranked {
		fmt.Fprintf(out, "%2d. [%s] %v (target role=%s, risk=%.0f, hops=%d)\n",
			i+1, p.Severity, p.Path, p.TargetRole, p.Score.RiskProduct, p.Score.Hops)
	}
}
