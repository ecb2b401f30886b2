package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/infra"
)

// DedupIndex — индекс виденных событий по натуральному ключу
// (report_id, submitted_at, version). Ограничен ретеншеном: LRU в памяти
// плюс TTL-ключи в Redis, а не "вечная" таблица.
type DedupIndex interface {
	// Seen отвечает, был ли ключ уже отмечен, не меняя индекс
	Seen(ctx context.Context, key string) (bool, error)

	// MarkSeen атомарно отмечает ключ; already=true, если он уже был отмечен
	MarkSeen(ctx context.Context, key string) (already bool, err error)
}

// MemoryDedup — ограниченный индекс в памяти с вытеснением по порядку вставки
type MemoryDedup struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	capacity int
}

func NewMemoryDedup(capacity int) *MemoryDedup {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryDedup{
		seen:     make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

func (d *MemoryDedup) Seen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok, nil
}

func (d *MemoryDedup) MarkSeen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true, nil
	}

	// Вытесняем самые старые ключи, чтобы индекс не рос бесконечно
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}

	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	return false, nil
}

// RedisDedup — долговечный слой дедупликации: SET NX EX с TTL.
// Переживает рестарты билдера; TTL = окну ретеншена дедупа.
type RedisDedup struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDedup(rdb *redis.Client, ttl time.Duration) *RedisDedup {
	return &RedisDedup{rdb: rdb, ttl: ttl}
}

func (d *RedisDedup) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.rdb.Exists(ctx, infra.GetDedupKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDedup) MarkSeen(ctx context.Context, key string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, infra.GetDedupKey(key), "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	// SetNX вернул false — ключ уже существовал
	return !ok, nil
}

// LayeredDedup объединяет слои: память отвечает быстро, Redis страхует рестарты.
// Ключ отмечается во всех слоях, чтобы они "лечили" друг друга.
type LayeredDedup struct {
	layers []DedupIndex
}

func NewLayeredDedup(layers ...DedupIndex) *LayeredDedup {
	return &LayeredDedup{layers: layers}
}

func (d *LayeredDedup) Seen(ctx context.Context, key string) (bool, error) {
	for _, layer := range d.layers {
		seen, err := layer.Seen(ctx, key)
		if err != nil {
			return false, err
		}
		if seen {
			return true, nil
		}
	}
	return false, nil
}

func (d *LayeredDedup) MarkSeen(ctx context.Context, key string) (bool, error) {
	already := false
	for _, layer := range d.layers {
		seen, err := layer.MarkSeen(ctx, key)
		if err != nil {
			return false, err
		}
		if seen {
			already = true
		}
	}
	return already, nil
}
