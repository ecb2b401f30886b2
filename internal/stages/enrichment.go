package stages

import (
	"context"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"go.uber.org/zap"
)

// ZoneLocator — внешний геопространственный датасет (школьные зоны и т.п.)
type ZoneLocator interface {
	Locate(ctx context.Context, lat, lon float64) (domain.ZoneInfo, error)
}

// EnrichmentStage дополняет отчет геоконтекстом по санитизированным координатам
type EnrichmentStage struct {
	locator ZoneLocator
	logger  *zap.Logger
}

func NewEnrichmentStage(locator ZoneLocator, logger *zap.Logger) *EnrichmentStage {
	return &EnrichmentStage{
		locator: locator,
		logger:  logger.With(zap.String("stage", "enrichment")),
	}
}

func (s *EnrichmentStage) Name() string { return "enrichment" }

func (s *EnrichmentStage) Execute(ctx context.Context, rc domain.ReportContext) (domain.ReportContext, error) {
	// Локация опциональна: отчет без координат просто не обогащается
	if rc.Location == nil {
		return rc, nil
	}

	zone, err := s.locator.Locate(ctx, rc.Location.Latitude, rc.Location.Longitude)
	if err != nil {
		return rc, classify(s.Name(), err)
	}

	rc.Enrichment = &zone
	return rc, nil
}
