package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/xela07ax/auditseq/internal/audit"
	"go.uber.org/zap"
)

// Действия оператора, которые попадают в аудит
const (
	ActionSequenceReset    = "SEQUENCE_RESET"
	ActionSequenceAllocate = "SEQUENCE_ALLOCATE"
)

// SequenceManager — то, что консоли нужно от генератора номеров.
type SequenceManager interface {
	Next(ctx context.Context, sequenceType string) (string, error)
	Current(ctx context.Context, sequenceType string) (int64, error)
	Reset(ctx context.Context, sequenceType string) error
}

// Auditor — запись действий оператора в журнал аудита.
type Auditor interface {
	RecordAudit(actorID, action, details string, opts ...audit.Option)
	RecordAuditSync(actorID, action, details string, opts ...audit.Option)
}

// Operator — кто и откуда выполняет действие.
type Operator struct {
	ID        string
	IP        string
	RequestID string
}

func (o Operator) auditOptions(sequenceType string, result audit.Result) []audit.Option {
	return []audit.Option{
		audit.WithEntity("Sequence", sequenceType),
		audit.WithIP(o.IP),
		audit.WithRequest(o.RequestID),
		audit.WithResult(result),
	}
}

type SequenceService struct {
	seq     SequenceManager
	auditor Auditor
	logger  *zap.Logger
}

func NewSequenceService(seq SequenceManager, auditor Auditor, logger *zap.Logger) *SequenceService {
	return &SequenceService{
		seq:     seq,
		auditor: auditor,
		logger:  logger.Named("sequence-service"),
	}
}

// Current — просмотр счетчика, в аудит не пишется.
func (s *SequenceService) Current(ctx context.Context, sequenceType string) (int64, error) {
	n, err := s.seq.Current(ctx, sequenceType)
	if err != nil {
		return 0, fmt.Errorf("sequence_service: current: %w", err)
	}
	return n, nil
}

// Reset обнуляет счетчик. Успешный сброс пишется синхронно: это редкое и опасное действие,
// запись о нем должна лечь в хранилище до ответа оператору.
func (s *SequenceService) Reset(ctx context.Context, op Operator, sequenceType string) error {
	// 1. Запоминаем значение до сброса, чтобы оно осталось в журнале
	prev, err := s.seq.Current(ctx, sequenceType)
	if err != nil {
		return fmt.Errorf("sequence_service: reset: %w", err)
	}

	// 2. Сброс
	if err := s.seq.Reset(ctx, sequenceType); err != nil {
		s.auditor.RecordAudit(op.ID, ActionSequenceReset, "error="+err.Error(),
			op.auditOptions(sequenceType, audit.ResultFailure)...)
		return fmt.Errorf("sequence_service: reset: %w", err)
	}

	// 3. Аудит
	s.auditor.RecordAuditSync(op.ID, ActionSequenceReset, "previous_number="+strconv.FormatInt(prev, 10),
		op.auditOptions(sequenceType, audit.ResultSuccess)...)

	s.logger.Warn("sequence reset by operator",
		zap.String("operator_id", op.ID),
		zap.String("sequence_type", sequenceType),
		zap.Int64("previous_number", prev))
	return nil
}

// Allocate выдает номер вручную (исправление документов оператором). Пишется асинхронно.
func (s *SequenceService) Allocate(ctx context.Context, op Operator, sequenceType string) (string, error) {
	number, err := s.seq.Next(ctx, sequenceType)
	if err != nil {
		s.auditor.RecordAudit(op.ID, ActionSequenceAllocate, "error="+err.Error(),
			op.auditOptions(sequenceType, audit.ResultFailure)...)
		return "", fmt.Errorf("sequence_service: allocate: %w", err)
	}

	s.auditor.RecordAudit(op.ID, ActionSequenceAllocate, "number="+number,
		op.auditOptions(sequenceType, audit.ResultSuccess)...)
	return number, nil
}
