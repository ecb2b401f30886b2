package domain

import (
	"fmt"
	"time"
)

// MutationEvent — уведомление "запись отчета изменилась".
// Доставка at-least-once: один и тот же триплет (report_id, submitted_at, version)
// может прийти повторно, потребитель обязан дедуплицировать.
type MutationEvent struct {
	ReportID    string         `json:"report_id"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Version     uint64         `json:"version"`
	Status      ExecutionState `json:"status"`
	Payload     ReportContext  `json:"payload"`
	ObservedAt  time.Time      `json:"observed_at"`
}

// DedupKey — натуральный ключ события для индекса дедупликации
func (e MutationEvent) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d", e.ReportID, e.SubmittedAt.UTC().Format(time.RFC3339Nano), e.Version)
}
