package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
)

// SegmentStore — write-once хранилище финализированных сегментов.
// Commit обязан быть stage-then-commit: падение посреди записи не должно
// оставить частично видимый сегмент.
type SegmentStore interface {
	Commit(ctx context.Context, seg *domain.LedgerSegment) error

	// List возвращает имена сегментов в порядке коммита
	List(ctx context.Context) ([]string, error)

	Load(ctx context.Context, name string) (*domain.LedgerSegment, error)
}

// SegmentName строит имя объекта по первому sequence_number.
// Нулевое дополнение дает лексикографический порядок = порядку коммита.
func SegmentName(firstSeq uint64) string {
	return fmt.Sprintf("segment-%012d.json", firstSeq)
}

// FileSegmentStore пишет сегменты на локальный диск.
// Протокол: запись во временный файл + fsync, затем атомарный rename.
type FileSegmentStore struct {
	dir string
}

func NewFileSegmentStore(dir string) (*FileSegmentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment store: mkdir %s: %w", dir, err)
	}
	return &FileSegmentStore{dir: dir}, nil
}

func (s *FileSegmentStore) Commit(ctx context.Context, seg *domain.LedgerSegment) error {
	name := SegmentName(seg.Header.FirstSequence)
	final := filepath.Join(s.dir, name)

	// Write-once: повторный коммит того же сегмента — ошибка, не перезапись
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("%w: %s", domain.ErrSegmentExists, name)
	}

	data, err := json.MarshalIndent(seg, "", "  ")
	if err != nil {
		return fmt.Errorf("segment store: marshal: %w", err)
	}

	// Stage: пишем под временным именем и принудительно сбрасываем на диск
	staging := final + ".staging"
	f, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("segment store: open staging: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(staging)
		return fmt.Errorf("segment store: write staging: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(staging)
		return fmt.Errorf("segment store: fsync staging: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(staging)
		return fmt.Errorf("segment store: close staging: %w", err)
	}

	// Commit: атомарная публикация
	if err := os.Rename(staging, final); err != nil {
		os.Remove(staging)
		return fmt.Errorf("segment store: publish: %w", err)
	}
	return nil
}

func (s *FileSegmentStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("segment store: readdir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		// Незакоммиченные .staging файлы невидимы для читателей
		if strings.HasPrefix(name, "segment-") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileSegmentStore) Load(ctx context.Context, name string) (*domain.LedgerSegment, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("segment store: read %s: %w", name, err)
	}
	var seg domain.LedgerSegment
	if err := json.Unmarshal(data, &seg); err != nil {
		return nil, fmt.Errorf("segment store: decode %s: %w", name, err)
	}
	return &seg, nil
}
