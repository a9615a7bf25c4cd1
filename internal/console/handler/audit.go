package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xela07ax/auditseq/internal/audit"
	"github.com/xela07ax/auditseq/internal/console/service"
	"go.uber.org/zap"
)

type AuditHandler struct {
	service *service.AuditService
	logger  *zap.Logger
}

func NewAuditHandler(s *service.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{service: s, logger: logger.Named("audit-handler")}
}

// GetLogs возвращает список событий аудита с поддержкой фильтрации
// GET /v1/audit?actor_id=...&action=...&entity_type=...&entity_id=...&from=RFC3339&to=RFC3339&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	// Извлекаем фильтры из Query-параметров
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	page, err := h.service.FetchLogs(r.Context(), f)
	if err != nil {
		h.logger.Error("failed to fetch audit logs", zap.Error(err))
		http.Error(w, "Failed to fetch audit logs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func parseFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		ActorID:     q.Get("actor_id"),
		Action:      q.Get("action"),
		ServiceName: q.Get("service_name"),
		EntityType:  q.Get("entity_type"),
		EntityID:    q.Get("entity_id"),
	}

	var err error
	if f.From, err = parseTime(q, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q, "to"); err != nil {
		return f, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, fmt.Errorf("from must be before to")
	}

	if raw := q.Get("limit"); raw != "" {
		f.Limit, err = strconv.Atoi(raw)
		if err != nil || f.Limit <= 0 {
			return f, fmt.Errorf("invalid limit %q", raw)
		}
	}
	return f, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: expected RFC3339", key)
	}
	return t, nil
}
