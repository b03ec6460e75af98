package pipeline

import (
	"context"

	"socgraph/internal/graph/topology"
)

// SnapshotWriter receives every published topology snapshot.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, snap *topology.Snapshot) error
	Close() error
}
