package stages

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"go.uber.org/zap"
)

func TestHTTPDetectorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Image               string  `json:"image"`
			ConfidenceThreshold float64 `json:"confidence_threshold"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Image)
		assert.Equal(t, 0.7, req.ConfidenceThreshold)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"detections":       []map[string]interface{}{{"label": "vape", "confidence": 0.91}},
			"vape_detected":    true,
			"total_detections": 1,
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, 5*time.Second, zap.NewNop())
	summary, err := d.Detect(context.Background(), []byte("jpeg"), 0.7)
	require.NoError(t, err)

	assert.True(t, summary.VapeDetected)
	assert.Equal(t, 1, summary.TotalDetections)
	require.Len(t, summary.Detections, 1)
	assert.Equal(t, "vape", summary.Detections[0].Label)
}

func TestHTTPDetectorThrottleHonorsRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, 5*time.Second, zap.NewNop())
	_, err := d.Detect(context.Background(), []byte("jpeg"), 0.5)
	require.Error(t, err)

	var throttle *domain.ThrottleError
	require.ErrorAs(t, err, &throttle)
	assert.Equal(t, 3*time.Second, throttle.RetryAfter)
	assert.True(t, domain.IsRetryable(err))
}

func TestHTTPDetectorServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, 5*time.Second, zap.NewNop())
	_, err := d.Detect(context.Background(), []byte("jpeg"), 0.5)
	require.Error(t, err)

	var trans *domain.TransientStageError
	assert.ErrorAs(t, err, &trans)
	assert.True(t, domain.IsRetryable(err))
}

func TestHTTPDetectorClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported image", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, 5*time.Second, zap.NewNop())
	_, err := d.Detect(context.Background(), []byte("jpeg"), 0.5)
	require.Error(t, err)

	var perm *domain.PermanentStageError
	assert.ErrorAs(t, err, &perm)
	assert.False(t, domain.IsRetryable(err))
}

func TestHTTPDetectorNetworkFailureIsTransient(t *testing.T) {
	// Сервер закрыт сразу: соединение откажет
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	d := NewHTTPDetector(srv.URL, time.Second, zap.NewNop())
	_, err := d.Detect(context.Background(), []byte("jpeg"), 0.5)
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}
