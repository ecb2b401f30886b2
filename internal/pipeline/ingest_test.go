package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/stages"
	"go.uber.org/zap"
)

// captureStage запоминает контексты, дошедшие до стадии
type captureStage struct {
	name string
	mu   sync.Mutex
	seen []domain.ReportContext
}

func (s *captureStage) Name() string { return s.name }

func (s *captureStage) Execute(ctx context.Context, rc domain.ReportContext) (domain.ReportContext, error) {
	s.mu.Lock()
	s.seen = append(s.seen, rc)
	s.mu.Unlock()
	return rc, nil
}

func (s *captureStage) last() domain.ReportContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[len(s.seen)-1]
}

func newIngestFixture(t *testing.T) (*httptest.Server, *Orchestrator, *captureStage) {
	t.Helper()
	artifacts, err := stages.NewFileArtifactStore(t.TempDir())
	require.NoError(t, err)

	capture := &captureStage{name: "persist"}
	orch := NewOrchestrator(OrchestratorConfig{
		StageTimeout:  200 * time.Millisecond,
		RetryAttempts: 2,
		BackoffBase:   time.Millisecond,
	}, passStage("redaction"), passStage("inference"), passStage("enrichment"), capture, zap.NewNop(), nil)

	handler := NewIngestHandler(orch, artifacts, "raw", zap.NewNop(), nil).
		WithClock(func() time.Time { return time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC) })

	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	handler.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, orch, capture
}

func submit(t *testing.T, srv *httptest.Server, body map[string]interface{}) (*http.Response, ingestResponse) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/v1/reports", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var out ingestResponse
	if resp.StatusCode == http.StatusAccepted {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestSubmitReportRunsPipeline(t *testing.T) {
	srv, orch, capture := newIngestFixture(t)

	photo := base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	resp, out := submit(t, srv, map[string]interface{}{
		"photo":        photo,
		"filename":     "my photo.jpg",
		"content_type": "image/jpeg",
		"notes":        "  near the gym  ",
		"location": map[string]interface{}{
			"latitude":  55.7558,
			"longitude": 37.6173,
		},
	})

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, out.OK)
	assert.NotEmpty(t, out.ReportID)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))

	status := waitTerminal(t, orch, out.ExecutionID)
	assert.Equal(t, domain.StateCompleted, status.State)
	assert.Equal(t, out.ReportID, status.ReportID)

	rc := capture.last()
	assert.Equal(t, out.ReportID, rc.ReportID)
	assert.Equal(t, "my-photo.jpg", rc.Filename)
	assert.Equal(t, "near the gym", rc.Notes)
	require.NotNil(t, rc.Raw)
	assert.Equal(t, "raw", rc.Raw.Bucket)
	assert.True(t, strings.HasPrefix(rc.Raw.Key, "2026/08/27/"))
	require.NotNil(t, rc.Location)
	assert.Equal(t, 55.7558, rc.Location.Latitude)
	assert.Empty(t, rc.IngestError)
}

func TestSubmitReportKeepsReportOnBadPhoto(t *testing.T) {
	srv, orch, capture := newIngestFixture(t)

	resp, out := submit(t, srv, map[string]interface{}{
		"photo":    "!!!not-base64!!!",
		"filename": "photo.jpg",
		"notes":    "text is still valuable",
	})

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	status := waitTerminal(t, orch, out.ExecutionID)
	assert.Equal(t, domain.StateCompleted, status.State)

	rc := capture.last()
	assert.Nil(t, rc.Raw)
	assert.Equal(t, "INVALID_BASE64", rc.IngestError)
	assert.Equal(t, "text is still valuable", rc.Notes)
}

func TestSubmitReportDropsInvalidLocation(t *testing.T) {
	srv, orch, capture := newIngestFixture(t)

	_, out := submit(t, srv, map[string]interface{}{
		"notes": "no photo",
		"location": map[string]interface{}{
			"latitude":  200.0,
			"longitude": 37.0,
		},
	})

	waitTerminal(t, orch, out.ExecutionID)
	assert.Nil(t, capture.last().Location)
}

func TestSubmitReportClampsConfidenceOverride(t *testing.T) {
	srv, orch, capture := newIngestFixture(t)

	_, out := submit(t, srv, map[string]interface{}{
		"notes":                "x",
		"confidence_threshold": 3.5,
	})

	waitTerminal(t, orch, out.ExecutionID)
	rc := capture.last()
	require.NotNil(t, rc.ConfidenceOverride)
	assert.Equal(t, 1.0, *rc.ConfidenceOverride)
}

func TestSubmitReportRejectsMalformedJSON(t *testing.T) {
	srv, _, _ := newIngestFixture(t)

	resp, err := http.Post(srv.URL+"/v1/reports", "application/json", strings.NewReader("{broken"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecutionStatusEndpoint(t *testing.T) {
	srv, orch, _ := newIngestFixture(t)

	_, out := submit(t, srv, map[string]interface{}{"notes": "x"})
	waitTerminal(t, orch, out.ExecutionID)

	resp, err := http.Get(srv.URL + "/v1/executions/" + out.ExecutionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status ExecutionStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, domain.StateCompleted, status.State)

	// Неизвестный прогон — 404
	resp404, err := http.Get(srv.URL + "/v1/executions/unknown")
	require.NoError(t, err)
	defer resp404.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp404.StatusCode)
}

func TestDecodePhotoStripsDataURLPrefix(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("jpeg"))

	assert.Equal(t, []byte("jpeg"), decodePhoto(encoded))
	assert.Equal(t, []byte("jpeg"), decodePhoto("data:image/jpeg;base64,"+encoded))
	assert.Nil(t, decodePhoto(""))
	assert.Nil(t, decodePhoto("%%%"))
}
