package assessmenthttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socgraph/pkg/models"
)

func TestWriteAssessmentsPostsBatch(t *testing.T) {
	var got []models.ThreatAssessment
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "token", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL, Headers: map[string]string{"X-Api-Key": "token"}})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteAssessments([]*models.ThreatAssessment{{ID: "a"}, {ID: "b"}}))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].ID)

	require.NoError(t, w.WriteAssessments(nil))
}

func TestWriteAssessmentsReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL})
	require.NoError(t, err)
	err = w.WriteAssessments([]*models.ThreatAssessment{{ID: "a"}})
	assert.ErrorContains(t, err, "503")

	_, err = NewWriter(Config{})
	assert.Error(t, err)
}

type postedBatch struct {
	severity string
	key      string
	ids      []string
}

func recordingServer(t *testing.T, failSeverity string) (*httptest.Server, *[]postedBatch) {
	t.Helper()
	var mu sync.Mutex
	var posts []postedBatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got []models.ThreatAssessment
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		p := postedBatch{severity: r.Header.Get(HeaderSeverity), key: r.Header.Get(HeaderIdempotencyKey)}
		for _, a := range got {
			assert.Equal(t, p.severity, a.Severity)
			p.ids = append(p.ids, a.ID)
		}
		mu.Lock()
		posts = append(posts, p)
		mu.Unlock()
		if p.severity == failSeverity {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &posts
}

func TestWriteAssessmentsGroupsBySeverityMostSevereFirst(t *testing.T) {
	srv, posts := recordingServer(t, "")
	w, err := NewWriter(Config{URL: srv.URL})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteAssessments([]*models.ThreatAssessment{
		{ID: "l1", Severity: models.SeverityLow},
		{ID: "c1", Severity: models.SeverityCritical},
		nil,
		{ID: "l2", Severity: models.SeverityLow},
		{ID: "h1", Severity: models.SeverityHigh},
	}))

	require.Len(t, *posts, 3)
	assert.Equal(t, models.SeverityCritical, (*posts)[0].severity)
	assert.Equal(t, models.SeverityHigh, (*posts)[1].severity)
	assert.Equal(t, models.SeverityLow, (*posts)[2].severity)
	assert.Equal(t, []string{"l1", "l2"}, (*posts)[2].ids)
	for _, p := range *posts {
		assert.Len(t, p.key, 16)
	}
}

func TestRetriedBatchReusesIdempotencyKeys(t *testing.T) {
	srv, posts := recordingServer(t, models.SeverityMedium)
	w, err := NewWriter(Config{URL: srv.URL})
	require.NoError(t, err)
	defer w.Close()

	batch := []*models.ThreatAssessment{
		{ID: "m1", Severity: models.SeverityMedium},
		{ID: "h1", Severity: models.SeverityHigh},
	}
	err = w.WriteAssessments(batch)
	assert.ErrorContains(t, err, "medium")
	err = w.WriteAssessments([]*models.ThreatAssessment{batch[1], batch[0]})
	assert.Error(t, err)

	require.Len(t, *posts, 4)
	assert.Equal(t, (*posts)[0].key, (*posts)[2].key)
	assert.Equal(t, (*posts)[1].key, (*posts)[3].key)
	assert.NotEqual(t, (*posts)[0].key, (*posts)[1].key)
}
