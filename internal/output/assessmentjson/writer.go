package assessmentjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"socgraph/internal/logger"
	"socgraph/pkg/models"
)

// Writer appends threat assessments to a JSON lines file.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter creates a JSONL writer for assessments.
func NewWriter(path string) (*Writer, error) {
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

	logger.Infof("Assessment JSON writer initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// WriteAssessments writes a batch of assessments.
func (w *Writer) WriteAssessments(assessments []*models.ThreatAssessment) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, a := range assessments {
		if err := w.encoder.Encode(a); err != nil {
			return fmt.Errorf("failed to encode assessment: %w", err)
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
