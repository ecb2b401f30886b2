package service

import (
	"context"
	"time"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
)

type ReportProvider interface {
	Get(ctx context.Context, reportID string) (domain.ReportContext, error)
	List(ctx context.Context, limit int, before time.Time) ([]domain.ReportContext, error)
}

// ReportService — read-only витрина отчетов для офицеров
type ReportService struct {
	repo ReportProvider
}

func NewReportService(repo ReportProvider) *ReportService {
	return &ReportService{repo: repo}
}

func (s *ReportService) Get(ctx context.Context, reportID string) (domain.ReportContext, error) {
	return s.repo.Get(ctx, reportID)
}

func (s *ReportService) List(ctx context.Context, limit int, before time.Time) ([]domain.ReportContext, error) {
	return s.repo.List(ctx, limit, before)
}
