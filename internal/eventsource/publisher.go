package eventsource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/infra"
)

// StreamPublisher пишет события мутаций в redis stream.
// Stream дает at-least-once доставку с подтверждениями на стороне потребителя.
type StreamPublisher struct {
	rdb *redis.Client
}

func NewStreamPublisher(rdb *redis.Client) *StreamPublisher {
	return &StreamPublisher{rdb: rdb}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev domain.MutationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal mutation event: %w", err)
	}
	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: infra.RedisKeyMutationStream,
		Values: map[string]interface{}{"event": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd mutation event: %w", err)
	}
	return nil
}
