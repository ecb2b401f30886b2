package domain

import (
	"fmt"
	"time"
)

// ExecutionState — состояние конвейера для одного отчета.
// Машина строго линейная: Redaction -> Inference -> Enrichment -> Persist.
type ExecutionState string

const (
	StateCreated    ExecutionState = "CREATED"
	StateRedacting  ExecutionState = "REDACTING"
	StateInferring  ExecutionState = "INFERRING"
	StateEnriching  ExecutionState = "ENRICHING"
	StatePersisting ExecutionState = "PERSISTING"
	StateCompleted  ExecutionState = "COMPLETED"
	StateFailed     ExecutionState = "FAILED"
)

// Таблица переходов. Отдельная структура (а не вложенные if),
// чтобы правила ретраев/идемпотентности были привязаны к состоянию.
var transitions = map[ExecutionState][]ExecutionState{
	StateCreated:    {StateRedacting, StateFailed},
	StateRedacting:  {StateInferring, StateFailed},
	StateInferring:  {StateEnriching, StateFailed},
	StateEnriching:  {StatePersisting, StateFailed},
	StatePersisting: {StateCompleted, StateFailed},
	// Терминальные состояния переходов не имеют
	StateCompleted: {},
	StateFailed:    {},
}

// rank задает монотонный порядок: статус никогда не откатывается назад.
var rank = map[ExecutionState]int{
	StateCreated:    0,
	StateRedacting:  1,
	StateInferring:  2,
	StateEnriching:  3,
	StatePersisting: 4,
	StateCompleted:  5,
	StateFailed:     5,
}

// CanTransitionTo проверяет правила конечного автомата
func (s ExecutionState) CanTransitionTo(next ExecutionState) error {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
}

// Terminal сообщает, достигнут ли финал (Completed или Failed)
func (s ExecutionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Rank возвращает позицию состояния в линейном порядке (для проверки монотонности)
func (s ExecutionState) Rank() int {
	return rank[s]
}

// ReviewStatusPending — статус записи для офицера после фиксации в БД.
const ReviewStatusPending = "PENDING_REVIEW"

// ArtifactRef — ссылка на бинарный артефакт в объектном хранилище
type ArtifactRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Location — координаты инцидента после санитизации (см. SanitizeLocation)
type Location struct {
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	AccuracyM  *float64 `json:"accuracy_m,omitempty"`
	CapturedAt string   `json:"captured_at,omitempty"`
}

// Detection — один объект, найденный моделью
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// DetectionSummary — результат стадии Inference.
// Внутренности модели нам не принадлежат, мы фиксируем только контракт.
type DetectionSummary struct {
	Endpoint            string      `json:"endpoint"`
	ConfidenceThreshold float64     `json:"confidence_threshold"`
	Detections          []Detection `json:"detections,omitempty"`
	VapeDetected        bool        `json:"vape_detected"`
	CigaretteDetected   bool        `json:"cigarette_detected"`
	TotalDetections     int         `json:"total_detections"`
}

// ZoneInfo — результат геопространственного обогащения (внешний датасет)
type ZoneInfo struct {
	ZoneID    string  `json:"zone_id"`
	ZoneName  string  `json:"zone_name"`
	DistanceM float64 `json:"distance_m"`
}

// ReportContext — контекст одного отчета, проходящего через конвейер.
// Инвариант: пара (ReportID, SubmittedAt) неизменна после создания,
// Version строго растет с каждой зафиксированной мутацией.
type ReportContext struct {
	ReportID    string         `json:"report_id"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Status      ExecutionState `json:"status"`
	Version     uint64         `json:"version"`

	// Поля заявителя (после санитизации на Ingest)
	Notes       string    `json:"notes,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Location    *Location `json:"location,omitempty"`

	// Переопределение порога уверенности (клампится в [0,1])
	ConfidenceOverride *float64 `json:"confidence_threshold,omitempty"`

	// Результаты стадий
	Raw        *ArtifactRef      `json:"raw,omitempty"`
	Redacted   *ArtifactRef      `json:"redacted,omitempty"`
	Inference  *DetectionSummary `json:"inference,omitempty"`
	Enrichment *ZoneInfo         `json:"enrichment,omitempty"`

	// Статус для ревью офицером (выставляется стадией Persist)
	ReviewStatus string `json:"review_status,omitempty"`

	// Маркер деградации на приеме (например, INVALID_BASE64)
	IngestError string `json:"ingest_error,omitempty"`
}
