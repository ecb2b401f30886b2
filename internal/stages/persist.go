package stages

import (
	"context"
	"time"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"go.uber.org/zap"
)

// ReportStore — долговечное хранилище записей отчетов.
// Upsert обязан быть идемпотентным по натуральному ключу (report_id, submitted_at):
// ретрай никогда не создает дубликат и никогда не откатывает версию.
type ReportStore interface {
	Upsert(ctx context.Context, rc domain.ReportContext) error
}

// MutationPublisher публикует событие "запись отчета изменилась"
type MutationPublisher interface {
	Publish(ctx context.Context, ev domain.MutationEvent) error
}

// Notifier — внешняя доставка уведомлений (контракт, внутренности не наши)
type Notifier interface {
	NotifyPendingReview(ctx context.Context, rc domain.ReportContext) error
}

// PersistStage фиксирует запись отчета и порождает событие мутации.
// Если upsert прошел, а публикация упала — ретрай стадии повторит и то и другое:
// upsert идемпотентен, а дубликат события поглотит дедуп леджера (at-least-once).
type PersistStage struct {
	store     ReportStore
	publisher MutationPublisher
	notifier  Notifier
	logger    *zap.Logger
	clock     func() time.Time
}

func NewPersistStage(store ReportStore, publisher MutationPublisher, notifier Notifier, logger *zap.Logger) *PersistStage {
	return &PersistStage{
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger.With(zap.String("stage", "persist")),
		clock:     time.Now,
	}
}

// WithClock подменяет часы для тестов
func (s *PersistStage) WithClock(clock func() time.Time) *PersistStage {
	s.clock = clock
	return s
}

func (s *PersistStage) Name() string { return "persist" }

func (s *PersistStage) Execute(ctx context.Context, rc domain.ReportContext) (domain.ReportContext, error) {
	if rc.ReviewStatus == "" {
		rc.ReviewStatus = domain.ReviewStatusPending
	}

	// Версия растет строго монотонно с каждой зафиксированной мутацией.
	// При ретрае стадии инкремент повторяется от того же входа — та же версия.
	rc.Version++

	if err := s.store.Upsert(ctx, rc); err != nil {
		return rc, classify(s.Name(), err)
	}

	ev := domain.MutationEvent{
		ReportID:    rc.ReportID,
		SubmittedAt: rc.SubmittedAt,
		Version:     rc.Version,
		Status:      rc.Status,
		Payload:     rc,
		ObservedAt:  s.clock().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return rc, classify(s.Name(), err)
	}

	// Уведомление — best effort: его потеря не валит конвейер
	if s.notifier != nil && rc.ReviewStatus == domain.ReviewStatusPending {
		if err := s.notifier.NotifyPendingReview(ctx, rc); err != nil {
			s.logger.Warn("notification failed",
				zap.String("report_id", rc.ReportID), zap.Error(err))
		}
	}

	return rc, nil
}
