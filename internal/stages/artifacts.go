package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
)

// ArtifactStore — хранилище бинарных артефактов (фото, редактированные копии).
// Put обязан быть безопасной перезаписью: повторная запись того же контента
// по тому же адресу не создает дубликатов.
type ArtifactStore interface {
	Put(ctx context.Context, ref domain.ArtifactRef, data []byte, contentType string) error
	Get(ctx context.Context, ref domain.ArtifactRef) ([]byte, error)
}

// FileArtifactStore раскладывает артефакты по схеме root/bucket/key
type FileArtifactStore struct {
	root string
}

func NewFileArtifactStore(root string) (*FileArtifactStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifact store: mkdir %s: %w", root, err)
	}
	return &FileArtifactStore{root: root}, nil
}

func (s *FileArtifactStore) path(ref domain.ArtifactRef) string {
	return filepath.Join(s.root, ref.Bucket, filepath.FromSlash(ref.Key))
}

func (s *FileArtifactStore) Put(ctx context.Context, ref domain.ArtifactRef, data []byte, contentType string) error {
	target := s.path(ref)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("artifact store: mkdir: %w", err)
	}

	// Временный файл + rename: перезапись атомарна, читатель не увидит обрывок
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("artifact store: write: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("artifact store: publish: %w", err)
	}
	return nil
}

func (s *FileArtifactStore) Get(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
	data, err := os.ReadFile(s.path(ref))
	if err != nil {
		return nil, fmt.Errorf("artifact store: read %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	return data, nil
}
