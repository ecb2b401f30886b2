package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/infra/auth"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/pipeline"
	"go.uber.org/zap"
)

// ExecutionHandler доносит операторские команды до конвейера.
// Консоль не держит реестр прогонов — сигнал уходит через redis pub/sub
// тому процессу, который этим прогоном владеет.
type ExecutionHandler struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewExecutionHandler(rdb *redis.Client, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{rdb: rdb, logger: logger}
}

func (h *ExecutionHandler) Abort(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")
	if executionID == "" {
		http.Error(w, "executionID is required", http.StatusBadRequest)
		return
	}

	if err := pipeline.PublishAbort(r.Context(), h.rdb, executionID); err != nil {
		h.logger.Error("failed to publish abort signal",
			zap.String("execution_id", executionID), zap.Error(err))
		http.Error(w, "signal delivery failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info("abort signal published",
		zap.String("execution_id", executionID),
		zap.String("operator", auth.UserIDFromContext(r.Context())),
	)
	w.WriteHeader(http.StatusAccepted)
}
