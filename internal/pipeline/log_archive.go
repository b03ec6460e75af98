package pipeline

import (
	"context"

	"socgraph/pkg/models"
)

// LogArchive keeps consumed records so that full rebuilds can replay them.
type LogArchive interface {
	ArchiveLogs(ctx context.Context, recs []*models.LogRecord) error
	Close() error
}
