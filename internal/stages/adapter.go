package stages

import (
	"context"
	"errors"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
)

// Adapter — единый контракт стадии обработки: контекст отчета на входе,
// обновленный контекст или типизированный сбой на выходе.
// Внутренности стадий (блюр лиц, модель, геоданные) — внешние коллабораторы.
//
// Требование к реализациям: идемпотентность под ретраями. Повторный вызов
// с тем же входом обязан дать тот же артефакт по тому же адресу.
type Adapter interface {
	Name() string
	Execute(ctx context.Context, rc domain.ReportContext) (domain.ReportContext, error)
}

// classify приводит ошибку внешнего вызова к таксономии стадии.
// Уже типизированные ошибки проходят как есть, остальное считаем транзиентным:
// решение об эскалации принимает оркестратор после исчерпания ретраев.
func classify(stage string, err error) error {
	if err == nil {
		return nil
	}
	var perm *domain.PermanentStageError
	var trans *domain.TransientStageError
	var throttle *domain.ThrottleError
	if errors.As(err, &perm) || errors.As(err, &trans) || errors.As(err, &throttle) {
		return err
	}
	return domain.Transient(stage, err)
}
