package eventsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/infra"
	"go.uber.org/zap"
)

// Handler обрабатывает одно событие мутации. Возврат ошибки оставляет
// сообщение неподтвержденным — оно будет доставлено повторно.
type Handler func(ctx context.Context, ev domain.MutationEvent) error

// StreamConsumer читает события мутаций из redis stream через consumer group.
// Ack происходит только после успешной обработки: упавший потребитель
// оставляет событие в pending, и оно доедет до леджера после рестарта.
type StreamConsumer struct {
	rdb      *redis.Client
	group    string
	consumer string
	handler  Handler
	logger   *zap.Logger
}

func NewStreamConsumer(rdb *redis.Client, consumerName string, handler Handler, logger *zap.Logger) *StreamConsumer {
	return &StreamConsumer{
		rdb:      rdb,
		group:    infra.RedisKeyLedgerGroup,
		consumer: consumerName,
		handler:  handler,
		logger:   logger.With(zap.String("component", "mutation-consumer")),
	}
}

func (c *StreamConsumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, infra.RedisKeyMutationStream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Run блокирует до отмены контекста. Устойчив к обрывам связи с redis:
// при ошибке чтения — пауза и переподключение, без падения процесса.
func (c *StreamConsumer) Run(ctx context.Context) {
	c.logger.Info("mutation consumer started",
		zap.String("stream", infra.RedisKeyMutationStream),
		zap.String("group", c.group),
		zap.String("consumer", c.consumer),
	)

	for {
		if ctx.Err() != nil {
			c.logger.Info("mutation consumer stopped")
			return
		}

		if err := c.ensureGroup(ctx); err != nil {
			c.logger.Error("consumer group setup failed, retrying", zap.Error(err))
			c.sleep(ctx, 3*time.Second)
			continue
		}

		// Сначала дочитываем pending этого потребителя (недоделанное до рестарта),
		// затем переключаемся на новые сообщения.
		if err := c.drain(ctx, "0"); err != nil {
			c.logger.Error("pending drain failed, reconnecting", zap.Error(err))
			c.sleep(ctx, 3*time.Second)
			continue
		}

		if err := c.drain(ctx, ">"); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.logger.Error("stream read failed, reconnecting", zap.Error(err))
			c.sleep(ctx, 3*time.Second)
		}
	}
}

func (c *StreamConsumer) drain(ctx context.Context, cursor string) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{infra.RedisKeyMutationStream, cursor},
			Count:    64,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if cursor == ">" {
					continue // Таймаут блокировки — нормальный простой
				}
				return nil
			}
			return err
		}

		delivered := 0
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				delivered++
				c.process(ctx, msg)
				if cursor != ">" {
					cursor = msg.ID
				}
			}
		}
		// Пустой ответ по pending-курсору означает, что хвост дочитан
		if cursor != ">" && delivered == 0 {
			return nil
		}
	}
}

func (c *StreamConsumer) process(ctx context.Context, msg redis.XMessage) {
	raw, ok := msg.Values["event"].(string)
	if !ok {
		// Мусор в стриме подтверждаем сразу, иначе он зациклит pending
		c.logger.Warn("malformed stream entry, acking", zap.String("id", msg.ID))
		c.ack(ctx, msg.ID)
		return
	}

	var ev domain.MutationEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		c.logger.Warn("undecodable mutation event, acking",
			zap.String("id", msg.ID), zap.Error(err))
		c.ack(ctx, msg.ID)
		return
	}

	if err := c.handler(ctx, ev); err != nil {
		// Без ack: событие останется в pending и будет доставлено снова
		c.logger.Error("mutation handler failed, leaving unacked",
			zap.String("id", msg.ID),
			zap.String("report_id", ev.ReportID),
			zap.Error(err),
		)
		return
	}

	c.ack(ctx, msg.ID)
}

func (c *StreamConsumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, infra.RedisKeyMutationStream, c.group, id).Err(); err != nil {
		c.logger.Error("xack failed", zap.String("id", id), zap.Error(err))
	}
}

func (c *StreamConsumer) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
