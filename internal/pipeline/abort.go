package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/infra"
	"go.uber.org/zap"
)

// AbortManager слушает операторские сигналы отмены из redis pub/sub.
// Консоль и конвейер — разные процессы; pub/sub доносит команду до того,
// в чьем реестре живет прогон.
type AbortManager struct {
	rdb          *redis.Client
	orchestrator *Orchestrator
	logger       *zap.Logger
}

func NewAbortManager(rdb *redis.Client, orch *Orchestrator, logger *zap.Logger) *AbortManager {
	return &AbortManager{
		rdb:          rdb,
		orchestrator: orch,
		logger:       logger.With(zap.String("component", "abort-manager")),
	}
}

// PublishAbort отправляет сигнал отмены (вызывается со стороны консоли)
func PublishAbort(ctx context.Context, rdb *redis.Client, executionID string) error {
	return rdb.Publish(ctx, infra.RedisChanExecutionAbort, executionID).Err()
}

// Listen — живучий цикл подписки: переживает обрывы связи с redis
// и переподписывается, не роняя процесс.
func (m *AbortManager) Listen(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := m.rdb.Subscribe(ctx, infra.RedisChanExecutionAbort)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			m.logger.Error("failed to subscribe",
				zap.String("chan", infra.RedisChanExecutionAbort), zap.Error(err))
			pubsub.Close()
			m.sleep(ctx, 5*time.Second)
			continue
		}

		m.logger.Info("abort listener attached", zap.String("chan", infra.RedisChanExecutionAbort))
		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				m.handle(msg.Payload)
			}
		}

		pubsub.Close()
		m.sleep(ctx, time.Second)
	}
}

func (m *AbortManager) handle(executionID string) {
	err := m.orchestrator.Abort(executionID)
	switch {
	case err == nil:
		m.logger.Info("abort signal applied", zap.String("execution_id", executionID))
	case errors.Is(err, domain.ErrExecutionNotFound):
		// Прогон другого инстанса или уже вычищенный — не наша забота
		m.logger.Debug("abort signal for unknown execution", zap.String("execution_id", executionID))
	default:
		m.logger.Error("abort signal failed",
			zap.String("execution_id", executionID), zap.Error(err))
	}
}

func (m *AbortManager) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
