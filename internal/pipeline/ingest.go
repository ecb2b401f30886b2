package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/stages"
	"go.uber.org/zap"
)

// IngestHandler принимает сырые отчеты с устройств и запускает конвейер
type IngestHandler struct {
	orchestrator *Orchestrator
	artifacts    stages.ArtifactStore
	rawBucket    string
	logger       *zap.Logger
	metrics      *Metrics
	clock        func() time.Time
}

func NewIngestHandler(orch *Orchestrator, artifacts stages.ArtifactStore, rawBucket string, logger *zap.Logger, metrics *Metrics) *IngestHandler {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &IngestHandler{
		orchestrator: orch,
		artifacts:    artifacts,
		rawBucket:    rawBucket,
		logger:       logger.With(zap.String("component", "ingest")),
		metrics:      metrics,
		clock:        time.Now,
	}
}

// WithClock подменяет часы для тестов
func (h *IngestHandler) WithClock(clock func() time.Time) *IngestHandler {
	h.clock = clock
	return h
}

func (h *IngestHandler) Routes(r chi.Router) {
	r.Post("/v1/reports", h.SubmitReport)
	r.Get("/v1/executions/{executionID}", h.ExecutionStatus)
}

type ingestLocation struct {
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	AccuracyM  *float64 `json:"accuracy_m"`
	CapturedAt string   `json:"captured_at"`
}

type ingestRequest struct {
	Photo               string          `json:"photo"`
	Filename            string          `json:"filename"`
	ContentType         string          `json:"content_type"`
	Notes               string          `json:"notes"`
	Location            *ingestLocation `json:"location"`
	ConfidenceThreshold *float64        `json:"confidence_threshold"`
}

type ingestResponse struct {
	OK          bool   `json:"ok"`
	ReportID    string `json:"report_id"`
	ExecutionID string `json:"execution_id"`
}

// SubmitReport: вход всегда недоверенный — каждое поле проходит санитизацию,
// битые куски отбрасываются или помечаются, но отчет принимается.
func (h *IngestHandler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20)).Decode(&req); err != nil {
		h.metrics.IngestRequests.WithLabelValues("400").Inc()
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	now := h.clock().UTC()
	rc := domain.ReportContext{
		ReportID:    uuid.New().String(),
		SubmittedAt: now,
		Status:      domain.StateCreated,
		Filename:    domain.CleanFilename(req.Filename),
		ContentType: domain.CleanString(req.ContentType, domain.MaxContentTypeLen),
		Notes:       domain.CleanString(req.Notes, domain.MaxNotesLen),
	}

	if req.Location != nil && req.Location.Latitude != nil && req.Location.Longitude != nil {
		rc.Location = domain.SanitizeLocation(&domain.Location{
			Latitude:   *req.Location.Latitude,
			Longitude:  *req.Location.Longitude,
			AccuracyM:  req.Location.AccuracyM,
			CapturedAt: req.Location.CapturedAt,
		})
	}

	if req.ConfidenceThreshold != nil {
		t := domain.ClampConfidence(*req.ConfidenceThreshold)
		rc.ConfidenceOverride = &t
	}

	if photo := decodePhoto(req.Photo); photo != nil {
		key := fmt.Sprintf("%s/%s/%s", now.Format("2006/01/02"), rc.ReportID, rc.Filename)
		ref := domain.ArtifactRef{Bucket: h.rawBucket, Key: key}
		if err := h.artifacts.Put(r.Context(), ref, photo, rc.ContentType); err != nil {
			h.logger.Error("raw artifact store failed",
				zap.String("report_id", rc.ReportID), zap.Error(err))
			h.metrics.IngestRequests.WithLabelValues("500").Inc()
			writeError(w, http.StatusInternalServerError, "artifact store unavailable")
			return
		}
		rc.Raw = &ref
	} else if req.Photo != "" {
		// Битая base64 не отклоняет отчет: текстовая часть все равно ценна
		rc.IngestError = "INVALID_BASE64"
		h.logger.Warn("photo rejected, keeping report", zap.String("report_id", rc.ReportID))
	}

	execID := h.orchestrator.StartPipeline(context.WithoutCancel(r.Context()), rc)

	h.metrics.IngestRequests.WithLabelValues("202").Inc()
	h.logger.Info("report accepted",
		zap.String("report_id", rc.ReportID),
		zap.String("execution_id", execID),
		zap.String("trace_id", TraceIDFromContext(r.Context())),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(ingestResponse{OK: true, ReportID: rc.ReportID, ExecutionID: execID})
}

func (h *IngestHandler) ExecutionStatus(w http.ResponseWriter, r *http.Request) {
	execID := chi.URLParam(r, "executionID")
	status, err := h.orchestrator.GetStatus(execID)
	if err != nil {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// decodePhoto разбирает base64 с опциональным data-URL префиксом.
// Возврат nil означает "фото нет или оно нечитаемо".
func decodePhoto(photo string) []byte {
	if photo == "" {
		return nil
	}
	if idx := strings.Index(photo, "base64,"); idx >= 0 {
		photo = photo[idx+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(photo)
	if err != nil || len(data) == 0 {
		return nil
	}
	return data
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": msg})
}
