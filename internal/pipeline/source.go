package pipeline

import "context"

// LogQueue yields raw JSON log records. Pop returns nil, nil when nothing
// arrived before its own timeout.
type LogQueue interface {
	Pop(ctx context.Context) ([]byte, error)
	Close() error
}

// Recorder observes pipeline activity.
type Recorder interface {
	RecordIngested()
	RecordDropped()
	RecordAssessment(severity string)
	SetScorerCache(dedup, campaigns int)
}
