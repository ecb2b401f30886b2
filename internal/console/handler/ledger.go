package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/console/service"
	"go.uber.org/zap"
)

type LedgerHandler struct {
	service *service.LedgerService
	logger  *zap.Logger
}

func NewLedgerHandler(s *service.LedgerService, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{service: s, logger: logger}
}

// Verify: полная проверка цепочки. Поврежденный леджер — это 200 с valid=false:
// HTTP-код отражает работу проверки, а не ее вердикт.
func (h *LedgerHandler) Verify(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Verify(r.Context())
	if err != nil {
		h.logger.Error("ledger verification unavailable", zap.Error(err))
		http.Error(w, "verification unavailable", http.StatusServiceUnavailable)
		return
	}

	if !result.Valid {
		h.logger.Warn("ledger verification failed",
			zap.Uint64("first_divergent_seq", result.FirstDivergentSeq),
			zap.String("reason", result.Reason),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *LedgerHandler) Head(w http.ResponseWriter, r *http.Request) {
	head, err := h.service.Head(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(head)
}
