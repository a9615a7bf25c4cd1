package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Sink определяет, куда физически будут сохраняться записи (append-only).
type Sink interface {
	// WriteBatch сохраняет пачку записей за один раз.
	// Если сохранилась только часть, реализация возвращает *PartialWriteError.
	WriteBatch(ctx context.Context, records []Record) error
}

// PartialWriteError — часть пачки не сохранилась. Failed — индексы в исходном срезе.
type PartialWriteError struct {
	Failed []int
	Err    error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("audit: %d records not persisted: %v", len(e.Failed), e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// Filter — параметры выборки для read-side (админка, выгрузка для комплаенса).
type Filter struct {
	ActorID     string
	Action      string
	ServiceName string
	EntityType  string
	EntityID    string
	From        time.Time
	To          time.Time
	Limit       int
}

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// EffectiveLimit приводит Limit к допустимому диапазону.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return f.Limit
	}
}

func (f Filter) matches(r Record) bool {
	switch {
	case f.ActorID != "" && r.ActorID != f.ActorID:
		return false
	case f.Action != "" && r.Action != f.Action:
		return false
	case f.ServiceName != "" && r.ServiceName != f.ServiceName:
		return false
	case f.EntityType != "" && r.EntityType != f.EntityType:
		return false
	case f.EntityID != "" && r.EntityID != f.EntityID:
		return false
	case !f.From.IsZero() && r.Timestamp.Before(f.From):
		return false
	case !f.To.IsZero() && !r.Timestamp.Before(f.To):
		return false
	}
	return true
}

// Reader — чтение сохраненных записей, новые первыми.
type Reader interface {
	Query(ctx context.Context, f Filter) ([]Record, error)
	// Count игнорирует Limit
	Count(ctx context.Context, f Filter) (int64, error)
}

// MemorySink — in-process Sink для тестов и storage.audit_driver=memory.
type MemorySink struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) WriteBatch(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

// Records возвращает копию всех записей в порядке сохранения.
func (s *MemorySink) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.records...)
}

func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemorySink) Query(_ context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	var out []Record
	for _, r := range s.records {
		if f.matches(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Seq > out[j].Seq
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemorySink) Count(_ context.Context, f Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.records {
		if f.matches(r) {
			n++
		}
	}
	return n, nil
}

var (
	_ Sink   = (*MemorySink)(nil)
	_ Reader = (*MemorySink)(nil)
)
