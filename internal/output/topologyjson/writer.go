package topologyjson

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"socgraph/internal/graph/adjacency"
	"socgraph/internal/graph/topology"
	"socgraph/internal/logger"
	"socgraph/pkg/models"
)

// Writer appends topology adjacency rows to a JSON lines file.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mapper  *adjacency.Mapper
	mu      sync.Mutex
}

// NewWriter creates a JSONL writer for adjacency rows. A nil mapper uses
// vertex rows and edge data.
func NewWriter(path string, mapper *adjacency.Mapper) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	if mapper == nil {
		mapper = adjacency.NewMapper(adjacency.MapperOptions{WriteVertexRows: true, IncludeEdgeData: true})
	}

	logger.Infof("Topology JSON writer initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
		mapper:  mapper,
	}, nil
}

// WriteSnapshot maps a snapshot to adjacency rows and appends them.
func (w *Writer) WriteSnapshot(ctx context.Context, snap *topology.Snapshot) error {
	if snap == nil {
		return nil
	}
	return w.WriteRows(w.mapper.Map(snap))
}

// WriteRows writes a batch of adjacency rows.
func (w *Writer) WriteRows(rows []*models.AdjacencyRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, row := range rows {
		if err := w.encoder.Encode(row); err != nil {
			return fmt.Errorf("failed to encode adjacency row: %w", err)
		}
	}
	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}
