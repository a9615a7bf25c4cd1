package sequence

import (
	"context"
	"sync"
	"time"
)

// Counter — строка счетчика для одного типа последовательности.
type Counter struct {
	Type       string    `json:"sequence_type"`
	Prefix     string    `json:"prefix"`
	LastNumber int64     `json:"last_number"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store определяет, где физически живут счетчики.
// Increment обязан выполнить read-increment-write под эксклюзивной блокировкой
// строки данного типа; блокировки разных типов между собой не конкурируют.
type Store interface {
	// Increment создает счетчик с prefix при первом обращении и возвращает значение после +1
	Increment(ctx context.Context, sequenceType, prefix string) (Counter, error)
	// Reset выставляет last_number = 0; для несуществующего типа ничего не делает
	Reset(ctx context.Context, sequenceType string) error
	// Get читает счетчик без блокировки. found=false, если типа еще нет
	Get(ctx context.Context, sequenceType string) (Counter, bool, error)
}

// MemoryStore — in-process реализация Store с отдельным мьютексом на каждый тип.
// Подходит для тестов и для storage.sequence_driver=memory.
type MemoryStore struct {
	mu   sync.Mutex // защищает только map, не сами счетчики
	rows map[string]*memoryRow
	now  func() time.Time
}

type memoryRow struct {
	mu      sync.Mutex
	counter Counter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]*memoryRow),
		now:  time.Now,
	}
}

func (s *MemoryStore) row(sequenceType, prefix string, create bool) *memoryRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[sequenceType]
	if !ok && create {
		r = &memoryRow{counter: Counter{Type: sequenceType, Prefix: prefix, UpdatedAt: s.now()}}
		s.rows[sequenceType] = r
	}
	return r
}

func (s *MemoryStore) Increment(ctx context.Context, sequenceType, prefix string) (Counter, error) {
	if err := ctx.Err(); err != nil {
		return Counter{}, err
	}
	r := s.row(sequenceType, prefix, true)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter.LastNumber++
	r.counter.UpdatedAt = s.now()
	return r.counter, nil
}

func (s *MemoryStore) Reset(ctx context.Context, sequenceType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := s.row(sequenceType, "", false)
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter.LastNumber = 0
	r.counter.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sequenceType string) (Counter, bool, error) {
	if err := ctx.Err(); err != nil {
		return Counter{}, false, err
	}
	r := s.row(sequenceType, "", false)
	if r == nil {
		return Counter{}, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter, true, nil
}

var _ Store = (*MemoryStore)(nil)
