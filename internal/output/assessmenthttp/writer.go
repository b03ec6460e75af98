package assessmenthttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"socgraph/pkg/models"
)

// Request headers set on every post.
const (
	HeaderSeverity       = "X-Socgraph-Severity"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Writer posts threat assessments to a remote HTTP endpoint, one request per
// severity, most severe first. Each request carries an idempotency key
// derived from its assessment ids, so a batch retried after a partial
// failure can be deduplicated by the receiver.
type Writer struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// Config configures the HTTP writer.
type Config struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// NewWriter creates an HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("assessment http URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Writer{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// WriteAssessments posts the batch grouped by severity. It stops at the first
// failed group.
func (w *Writer) WriteAssessments(assessments []*models.ThreatAssessment) error {
	for _, g := range groupBySeverity(assessments) {
		if err := w.post(g.severity, g.assessments); err != nil {
			return fmt.Errorf("post %d %s assessments: %w", len(g.assessments), g.severity, err)
		}
	}
	return nil
}

type severityGroup struct {
	severity    string
	assessments []*models.ThreatAssessment
}

func groupBySeverity(assessments []*models.ThreatAssessment) []severityGroup {
	var groups []severityGroup
	index := make(map[string]int)
	for _, a := range assessments {
		if a == nil {
			continue
		}
		i, ok := index[a.Severity]
		if !ok {
			i = len(groups)
			index[a.Severity] = i
			groups = append(groups, severityGroup{severity: a.Severity})
		}
		groups[i].assessments = append(groups[i].assessments, a)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return models.SeverityRank(groups[i].severity) > models.SeverityRank(groups[j].severity)
	})
	return groups
}

// idempotencyKey hashes the sorted assessment ids.
func idempotencyKey(assessments []*models.ThreatAssessment) string {
	ids := make([]string, 0, len(assessments))
	for _, a := range assessments {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	h := xxhash.New()
	for _, id := range ids {
		h.WriteString(id)
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func (w *Writer) post(severity string, assessments []*models.ThreatAssessment) error {
	body, err := json.Marshal(assessments)
	if err != nil {
		return fmt.Errorf("failed to marshal assessments: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(HeaderSeverity, severity)
	req.Header.Set(HeaderIdempotencyKey, idempotencyKey(assessments))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http request failed with status %s", resp.Status)
	}
	return nil
}

// Close releases HTTP resources.
func (w *Writer) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
