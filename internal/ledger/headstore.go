package ledger

import (
	"context"
	"sync"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
)

// HeadState — текущая голова цепочки: хэш последней записи и ее номер.
type HeadState struct {
	Hash     string
	Sequence uint64
}

// HeadStore — единственный разделяемый ресурс леджера.
// Продвижение головы идет исключительно через CompareAndSwap: писатель
// спекулятивно считает следующий хэш и коммитит при условии, что голова
// не уехала. При конфликте — ErrHeadConflict, перечитывание и повтор.
type HeadStore interface {
	// Load возвращает текущую голову; для пустого леджера — генезис и seq 0
	Load(ctx context.Context) (HeadState, error)

	// CompareAndSwap продвигает голову observed -> next.
	// Возвращает domain.ErrHeadConflict, если голова уже не observed.
	CompareAndSwap(ctx context.Context, observed, next HeadState) error
}

// MemoryHeadStore — головное хранилище на мьютексе для single-node запуска и тестов
type MemoryHeadStore struct {
	mu    sync.Mutex
	state HeadState
}

func NewMemoryHeadStore(genesis string) *MemoryHeadStore {
	return &MemoryHeadStore{state: HeadState{Hash: genesis, Sequence: 0}}
}

func (m *MemoryHeadStore) Load(ctx context.Context) (HeadState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MemoryHeadStore) CompareAndSwap(ctx context.Context, observed, next HeadState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != observed {
		return domain.ErrHeadConflict
	}
	m.state = next
	return nil
}
