package assessmentclickhouse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"socgraph/pkg/models"
)

// Config configures the ClickHouse HTTP writer.
type Config struct {
	URL      string
	Database string
	Table    string
	Username string
	Password string
	Timeout  time.Duration
	Headers  map[string]string
}

// Writer sends threat assessments to ClickHouse via HTTP JSONEachRow.
type Writer struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// Row is the flat ClickHouse layout of one assessment.
type Row struct {
	TS                  string   `json:"ts"`
	ID                  string   `json:"id"`
	AgentID             string   `json:"agent_id"`
	Host                string   `json:"host"`
	IPAddress           string   `json:"ip_address"`
	ThreatScore         float64  `json:"threat_score"`
	ThreatType          string   `json:"threat_type"`
	Severity            string   `json:"severity"`
	Indicators          []string `json:"indicators"`
	MatchedPatterns     int      `json:"matched_patterns"`
	AnalysisType        string   `json:"analysis_type"`
	Confidence          float64  `json:"confidence"`
	DeduplicationFactor int      `json:"dedup_factor"`
	CampaignBoost       float64  `json:"campaign_boost"`
}

// NewWriter creates a ClickHouse HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("clickhouse URL is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "threat_assessments"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	q := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", quoteIdent(cfg.Database), quoteIdent(cfg.Table))
	base := strings.TrimRight(cfg.URL, "/")
	endpoint := base + "/?query=" + url.QueryEscape(q)

	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Username != "" {
		headers["X-ClickHouse-User"] = cfg.Username
	}
	if cfg.Password != "" {
		headers["X-ClickHouse-Key"] = cfg.Password
	}

	return &Writer{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// RowFrom flattens an assessment. ClickHouse DateTime64 columns accept the
// "2006-01-02 15:04:05.000" layout.
func RowFrom(a *models.ThreatAssessment) Row {
	row := Row{
		TS:              a.Timestamp.UTC().Format("2006-01-02 15:04:05.000"),
		ID:              a.ID,
		AgentID:         a.AgentID,
		Host:            a.Hostname,
		IPAddress:       a.IPAddress,
		ThreatScore:     a.ThreatScore,
		ThreatType:      a.ThreatType,
		Severity:        a.Severity,
		Indicators:      a.Indicators,
		MatchedPatterns: a.MatchedPatterns,
		AnalysisType:    a.AnalysisType,
		Confidence:      a.Confidence,
	}
	if row.Indicators == nil {
		row.Indicators = []string{}
	}
	if adj := a.ContextAdjustments; adj != nil {
		row.DeduplicationFactor = adj.DeduplicationFactor
		row.CampaignBoost = adj.CampaignBoost
	}
	return row
}

// WriteAssessments sends a batch of assessments.
func (w *Writer) WriteAssessments(assessments []*models.ThreatAssessment) error {
	if len(assessments) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, a := range assessments {
		if a == nil {
			continue
		}
		if err := enc.Encode(RowFrom(a)); err != nil {
			return fmt.Errorf("failed to marshal assessment row: %w", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, w.endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse request failed with status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Close releases resources.
func (w *Writer) Close() error {
	return nil
}

func quoteIdent(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "`", "")
	return "`" + v + "`"
}
