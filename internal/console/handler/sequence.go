package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/auditseq/internal/console/service"
	"github.com/xela07ax/auditseq/internal/infra/auth"
	"github.com/xela07ax/auditseq/internal/sequence"
	"go.uber.org/zap"
)

type SequenceHandler struct {
	service *service.SequenceService
	logger  *zap.Logger
}

func NewSequenceHandler(s *service.SequenceService, logger *zap.Logger) *SequenceHandler {
	return &SequenceHandler{service: s, logger: logger.Named("sequence-handler")}
}

type sequenceResponse struct {
	SequenceType string `json:"sequence_type"`
	LastNumber   int64  `json:"last_number"`
}

type allocateResponse struct {
	SequenceType string `json:"sequence_type"`
	Number       string `json:"number"`
}

// Get — GET /v1/sequences/{type}
func (h *SequenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	t := strings.ToUpper(chi.URLParam(r, "type"))

	n, err := h.service.Current(r.Context(), t)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sequenceResponse{SequenceType: t, LastNumber: n})
}

// Reset — POST /v1/sequences/{type}/reset
func (h *SequenceHandler) Reset(w http.ResponseWriter, r *http.Request) {
	t := strings.ToUpper(chi.URLParam(r, "type"))

	if err := h.service.Reset(r.Context(), operatorFrom(r), t); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Allocate — POST /v1/sequences/{type}/next
func (h *SequenceHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	t := strings.ToUpper(chi.URLParam(r, "type"))

	number, err := h.service.Allocate(r.Context(), operatorFrom(r), t)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, allocateResponse{SequenceType: t, Number: number})
}

// Разделяем типы ошибок: 400 на пустой тип, 503 на недоступное хранилище.
func (h *SequenceHandler) writeError(w http.ResponseWriter, err error) {
	var se *sequence.StorageError
	switch {
	case errors.Is(err, sequence.ErrInvalidSequenceType):
		http.Error(w, "sequence type is required", http.StatusBadRequest)
	case errors.As(err, &se):
		h.logger.Error("sequence storage unavailable", zap.String("op", se.Op), zap.Error(err))
		http.Error(w, "sequence storage unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error("sequence operation failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func operatorFrom(r *http.Request) service.Operator {
	op := service.Operator{
		IP:        r.RemoteAddr,
		RequestID: middleware.GetReqID(r.Context()),
	}
	// RealIP кладет сюда голый IP, а без него приходит host:port
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		op.IP = host
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		op.ID = claims.OperatorID
	}
	return op
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
