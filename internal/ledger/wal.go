package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/infra"
)

// RecordLog — журнал предзаписи для хвоста цепочки, который уже продвинул
// голову, но еще не попал в закоммиченный сегмент. Без журнала падение
// процесса между CAS и финализацией оставило бы в цепочке незаполняемую
// дыру: голова ушла вперед, а записей под нее нет.
type RecordLog interface {
	Append(ctx context.Context, rec domain.AuditRecord) error

	// Replay возвращает журнал в порядке записи
	Replay(ctx context.Context) ([]domain.AuditRecord, error)

	// Truncate удаляет первые n записей после коммита сегмента
	Truncate(ctx context.Context, n int) error
}

// MemoryRecordLog — журнал в памяти. Падение процесса он не переживает,
// поэтому годится для тестов и одноразовых запусков, не для продакшена.
type MemoryRecordLog struct {
	mu   sync.Mutex
	recs []domain.AuditRecord
}

func NewMemoryRecordLog() *MemoryRecordLog {
	return &MemoryRecordLog{}
}

func (l *MemoryRecordLog) Append(ctx context.Context, rec domain.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
	return nil
}

func (l *MemoryRecordLog) Replay(ctx context.Context) ([]domain.AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.AuditRecord, len(l.recs))
	copy(out, l.recs)
	return out, nil
}

func (l *MemoryRecordLog) Truncate(ctx context.Context, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.recs) {
		n = len(l.recs)
	}
	l.recs = l.recs[n:]
	return nil
}

// RedisRecordLog хранит журнал списком в Redis и переживает рестарт билдера
type RedisRecordLog struct {
	rdb *redis.Client
	key string
}

func NewRedisRecordLog(rdb *redis.Client) *RedisRecordLog {
	return &RedisRecordLog{rdb: rdb, key: infra.RedisKeyLedgerJournal}
}

func (l *RedisRecordLog) Append(ctx context.Context, rec domain.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("record log: marshal: %w", err)
	}
	if err := l.rdb.RPush(ctx, l.key, data).Err(); err != nil {
		return fmt.Errorf("record log: rpush: %w", err)
	}
	return nil
}

func (l *RedisRecordLog) Replay(ctx context.Context) ([]domain.AuditRecord, error) {
	vals, err := l.rdb.LRange(ctx, l.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("record log: lrange: %w", err)
	}
	recs := make([]domain.AuditRecord, 0, len(vals))
	for _, v := range vals {
		var rec domain.AuditRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("record log: decode: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (l *RedisRecordLog) Truncate(ctx context.Context, n int) error {
	if err := l.rdb.LTrim(ctx, l.key, int64(n), -1).Err(); err != nil {
		return fmt.Errorf("record log: ltrim: %w", err)
	}
	return nil
}
