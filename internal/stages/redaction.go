package stages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"go.uber.org/zap"
)

// Redactor — внешний сервис редактирования (блюр лиц и т.п.).
// Его внутренности не специфицируются, только контракт.
type Redactor interface {
	Redact(ctx context.Context, data []byte, contentType string) ([]byte, error)
}

// RedactionStage создает редактированную копию исходного фото.
// Идемпотентность: ключ артефакта выводится из хэша исходника
// (content-addressed), поэтому ретрай пишет те же байты по тому же адресу.
type RedactionStage struct {
	artifacts      ArtifactStore
	redactor       Redactor
	evidenceBucket string
	logger         *zap.Logger
}

func NewRedactionStage(artifacts ArtifactStore, redactor Redactor, evidenceBucket string, logger *zap.Logger) *RedactionStage {
	return &RedactionStage{
		artifacts:      artifacts,
		redactor:       redactor,
		evidenceBucket: evidenceBucket,
		logger:         logger.With(zap.String("stage", "redaction")),
	}
}

func (s *RedactionStage) Name() string { return "redaction" }

func (s *RedactionStage) Execute(ctx context.Context, rc domain.ReportContext) (domain.ReportContext, error) {
	// Отчет без фото — валидный случай, стадия проходит насквозь
	if rc.Raw == nil {
		s.logger.Debug("no raw artifact, skipping", zap.String("report_id", rc.ReportID))
		return rc, nil
	}

	data, err := s.artifacts.Get(ctx, *rc.Raw)
	if err != nil {
		return rc, classify(s.Name(), err)
	}

	redacted, err := s.redactor.Redact(ctx, data, rc.ContentType)
	if err != nil {
		return rc, classify(s.Name(), err)
	}

	// Адрес по содержимому исходника: один вход — один ключ
	sum := sha256.Sum256(data)
	key := fmt.Sprintf("redacted/%s/%s", hex.EncodeToString(sum[:]), rc.Filename)

	ref := domain.ArtifactRef{Bucket: s.evidenceBucket, Key: key}
	if err := s.artifacts.Put(ctx, ref, redacted, rc.ContentType); err != nil {
		return rc, classify(s.Name(), err)
	}

	rc.Redacted = &ref
	return rc, nil
}
