package stages

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"go.uber.org/zap"
)

// HTTPDetector вызывает модель детекции по HTTP (JSON in / JSON out)
type HTTPDetector struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

func NewHTTPDetector(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPDetector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDetector{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With(zap.String("component", "http-detector")),
	}
}

func (d *HTTPDetector) Endpoint() string { return d.endpoint }

type detectRequest struct {
	Image               string  `json:"image"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

type detectResponse struct {
	Detections        []domain.Detection `json:"detections"`
	VapeDetected      bool               `json:"vape_detected"`
	CigaretteDetected bool               `json:"cigarette_detected"`
	TotalDetections   int                `json:"total_detections"`
}

func (d *HTTPDetector) Detect(ctx context.Context, image []byte, threshold float64) (domain.DetectionSummary, error) {
	body, err := json.Marshal(detectRequest{
		Image:               base64.StdEncoding.EncodeToString(image),
		ConfidenceThreshold: threshold,
	})
	if err != nil {
		return domain.DetectionSummary{}, fmt.Errorf("marshal detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.DetectionSummary{}, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		// Сетевые сбои и таймауты — транзиентны по определению
		return domain.DetectionSummary{}, &domain.TransientStageError{Stage: "inference", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.DetectionSummary{}, &domain.TransientStageError{Stage: "inference", Cause: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		// Модель просит притормозить; уважаем Retry-After, если он есть
		retryAfter := 1 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, perr := strconv.Atoi(v); perr == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return domain.DetectionSummary{}, &domain.ThrottleError{
			RetryAfter: retryAfter,
			Cause:      fmt.Errorf("detector throttled: %s", string(raw)),
		}
	case resp.StatusCode >= 500:
		return domain.DetectionSummary{}, &domain.TransientStageError{
			Stage: "inference",
			Cause: fmt.Errorf("detector returned %d: %s", resp.StatusCode, string(raw)),
		}
	case resp.StatusCode >= 400:
		// 4xx — наш запрос модель не переварит никогда, ретраи бессмысленны
		return domain.DetectionSummary{}, &domain.PermanentStageError{
			Stage: "inference",
			Cause: fmt.Errorf("detector rejected request %d: %s", resp.StatusCode, string(raw)),
		}
	}

	var out detectResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.DetectionSummary{}, &domain.TransientStageError{
			Stage: "inference",
			Cause: fmt.Errorf("decode detect response: %w", err),
		}
	}

	return domain.DetectionSummary{
		Detections:        out.Detections,
		VapeDetected:      out.VapeDetected,
		CigaretteDetected: out.CigaretteDetected,
		TotalDetections:   out.TotalDetections,
	}, nil
}
