// Package snapshotjson writes the latest topology snapshot to a JSON file.
package snapshotjson

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"socgraph/internal/graph/topology"
)

// Writer replaces the file atomically on every snapshot.
type Writer struct {
	path string
	mu   sync.Mutex
}

// NewWriter creates a snapshot file writer.
func NewWriter(path string) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is empty")
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return &Writer{path: path}, nil
}

// WriteSnapshot writes the snapshot as indented JSON.
func (w *Writer) WriteSnapshot(ctx context.Context, snap *topology.Snapshot) error {
	if snap == nil {
		return nil
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot file.
func Load(path string) (*topology.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return topology.DecodeSnapshot(data)
}

// Close releases resources.
func (w *Writer) Close() error {
	return nil
}
