package audit

import "sync"

// entry — запись в очереди плюс число неудачных попыток сброса в Sink.
type entry struct {
	rec      Record
	attempts int
}

// Queue — потокобезопасный буфер еще не сохраненных записей (MPSC).
// Много продюсеров (Record/RecordSync), один потребитель (Flusher).
// capacity == 0 — без ограничения; иначе при переполнении вытесняется самая старая запись.
type Queue struct {
	mu       sync.Mutex
	items    []entry
	capacity int

	dropped uint64
}

func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{capacity: capacity}
}

// Push добавляет запись в хвост. Возвращает false, если ради нее пришлось вытеснить старую.
func (q *Queue) Push(rec Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	ok := true
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
		ok = false
	}
	q.items = append(q.items, entry{rec: rec})
	return ok
}

// requeue возвращает неудачно сброшенные записи в голову очереди, сохраняя их порядок.
// Ограничение capacity здесь не применяется: эти записи уже были приняты.
func (q *Queue) requeue(entries []entry) {
	if len(entries) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]entry, 0, len(entries)+len(q.items))
	merged = append(merged, entries...)
	merged = append(merged, q.items...)
	q.items = merged
}

// popBatch забирает до n записей из головы.
func (q *Queue) popBatch(n int) []entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || n <= 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]entry, n)
	copy(batch, q.items[:n])

	// не держим ссылки на отданные записи в старом массиве
	rest := make([]entry, len(q.items)-n)
	copy(rest, q.items[n:])
	q.items = rest
	return batch
}

// drain забирает все записи разом.
func (q *Queue) drain() []entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped — сколько записей вытеснено из-за capacity.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
