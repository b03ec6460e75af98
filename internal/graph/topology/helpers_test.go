package topology

import (
	"context"
	"sync"
	"time"

	"socgraph/pkg/models"
)

var testNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

type staticSource struct {
	mu      sync.Mutex
	records []*models.LogRecord
	err     error
	windows []time.Duration
	limits  []int
	// onFetch runs before the records are returned.
	onFetch func()
}

func (s *staticSource) GetRecentLogs(ctx context.Context, window time.Duration, limit int) ([]*models.LogRecord, error) {
	if s.onFetch != nil {
		s.onFetch()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = append(s.windows, window)
	s.limits = append(s.limits, limit)
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func record(agent, host, msg string, ts time.Time) *models.LogRecord {
	r := &models.LogRecord{
		AgentID:   agent,
		Message:   msg,
		Source:    "collector",
		Timestamp: ts,
	}
	if host != "" {
		r.ParsedData = map[string]interface{}{"hostname": host}
	}
	return r
}

func withNetwork(r *models.LogRecord, src, dst string) *models.LogRecord {
	r.NetworkInfo = map[string]interface{}{}
	if src != "" {
		r.NetworkInfo["source_ip"] = src
	}
	if dst != "" {
		r.NetworkInfo["destination_ip"] = dst
	}
	return r
}

func withParsed(r *models.LogRecord, key, value string) *models.LogRecord {
	if r.ParsedData == nil {
		r.ParsedData = map[string]interface{}{}
	}
	r.ParsedData[key] = value
	return r
}

type recordedRebuild struct {
	result string
	snap   *Snapshot
}

type fakeRecorder struct {
	calls []recordedRebuild
}

func (f *fakeRecorder) RecordRebuild(result string, snap *Snapshot) {
	f.calls = append(f.calls, recordedRebuild{result: result, snap: snap})
}
