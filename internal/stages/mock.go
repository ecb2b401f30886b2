package stages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
)

// Мок-реализации внешних сервисов: для локальной разработки и демо,
// когда реальные модель/редактор/геодатасет не подняты.

// MockRedactor имитирует редактирование: задержка + маркер поверх байт
type MockRedactor struct {
	Latency time.Duration
}

func (m *MockRedactor) Redact(ctx context.Context, data []byte, contentType string) ([]byte, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, &domain.PermanentStageError{
			Stage: "redaction",
			Cause: fmt.Errorf("unsupported content type %q", contentType),
		}
	}
	select {
	case <-time.After(m.Latency): // Имитация работы модели блюра
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := make([]byte, 0, len(data)+16)
	out = append(out, []byte("REDACTED::")...)
	out = append(out, data...)
	return out, nil
}

// MockDetector всегда "находит" вейп при непустом изображении
type MockDetector struct {
	Latency time.Duration
}

func (m *MockDetector) Endpoint() string { return "mock://detector" }

func (m *MockDetector) Detect(ctx context.Context, image []byte, threshold float64) (domain.DetectionSummary, error) {
	select {
	case <-time.After(m.Latency):
	case <-ctx.Done():
		return domain.DetectionSummary{}, ctx.Err()
	}
	if len(image) == 0 {
		return domain.DetectionSummary{}, nil
	}
	det := domain.Detection{Label: "vape", Confidence: 0.93}
	if det.Confidence < threshold {
		return domain.DetectionSummary{}, nil
	}
	return domain.DetectionSummary{
		Detections:      []domain.Detection{det},
		VapeDetected:    true,
		TotalDetections: 1,
	}, nil
}

// MockZoneLocator возвращает фиксированную зону рядом с любой точкой
type MockZoneLocator struct{}

func (m *MockZoneLocator) Locate(ctx context.Context, lat, lon float64) (domain.ZoneInfo, error) {
	return domain.ZoneInfo{
		ZoneID:    "zone-001",
		ZoneName:  "Central School District",
		DistanceM: 120.5,
	}, nil
}

// MockNotifier глотает уведомления молча
type MockNotifier struct{}

func (m *MockNotifier) NotifyPendingReview(ctx context.Context, rc domain.ReportContext) error {
	return nil
}
