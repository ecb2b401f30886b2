package stages

import (
	"context"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"go.uber.org/zap"
)

// Detector — внешняя модель детекции объектов
type Detector interface {
	Endpoint() string
	Detect(ctx context.Context, image []byte, threshold float64) (domain.DetectionSummary, error)
}

// InferenceStage гоняет исходное фото через модель детекции.
// Порог уверенности: переопределение из отчета -> дефолт, всегда кламп [0,1].
type InferenceStage struct {
	artifacts        ArtifactStore
	detector         Detector
	defaultThreshold float64
	logger           *zap.Logger
}

func NewInferenceStage(artifacts ArtifactStore, detector Detector, defaultThreshold float64, logger *zap.Logger) *InferenceStage {
	return &InferenceStage{
		artifacts:        artifacts,
		detector:         detector,
		defaultThreshold: domain.ClampConfidence(defaultThreshold),
		logger:           logger.With(zap.String("stage", "inference")),
	}
}

func (s *InferenceStage) Name() string { return "inference" }

func (s *InferenceStage) resolveThreshold(rc domain.ReportContext) float64 {
	if rc.ConfidenceOverride != nil {
		return domain.ClampConfidence(*rc.ConfidenceOverride)
	}
	return s.defaultThreshold
}

func (s *InferenceStage) Execute(ctx context.Context, rc domain.ReportContext) (domain.ReportContext, error) {
	if rc.Raw == nil {
		// Без изображения детекция невозможна; фиксируем пустой результат
		rc.Inference = &domain.DetectionSummary{
			Endpoint:            s.detector.Endpoint(),
			ConfidenceThreshold: s.resolveThreshold(rc),
		}
		return rc, nil
	}

	image, err := s.artifacts.Get(ctx, *rc.Raw)
	if err != nil {
		return rc, classify(s.Name(), err)
	}

	threshold := s.resolveThreshold(rc)
	summary, err := s.detector.Detect(ctx, image, threshold)
	if err != nil {
		return rc, classify(s.Name(), err)
	}

	summary.Endpoint = s.detector.Endpoint()
	summary.ConfidenceThreshold = threshold
	rc.Inference = &summary

	s.logger.Debug("inference done",
		zap.String("report_id", rc.ReportID),
		zap.Int("detections", summary.TotalDetections),
	)
	return rc, nil
}
