package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/auditseq/internal/audit"
)

type AuditService struct {
	repo audit.Reader
}

func NewAuditService(repo audit.Reader) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// AuditPage — страница выборки и общее число записей под фильтром.
type AuditPage struct {
	Records []audit.Record `json:"records"`
	Total   int64          `json:"total"`
}

// FetchLogs запрашивает логи с фильтрацией.
// Логика фильтрации инкапсулирована в репозитории.
func (s *AuditService) FetchLogs(ctx context.Context, f audit.Filter) (*AuditPage, error) {
	logs, err := s.repo.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	total, err := s.repo.Count(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to count logs: %w", err)
	}
	if logs == nil {
		logs = []audit.Record{}
	}
	return &AuditPage{Records: logs, Total: total}, nil
}
