package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSinkDown = errors.New("sink: connection refused")

func fixedNow() time.Time {
	return time.Date(2024, 1, 18, 10, 30, 0, 0, time.UTC)
}

func testRecord(seq uint64, action string) Record {
	return NewRecord(Event{ActorID: "u-1", Action: action}, nil, seq, fixedNow(), "test")
}

// controlledSink — MemorySink с управляемыми отказами и задержкой.
type controlledSink struct {
	*MemorySink

	delay     time.Duration
	failFirst int64 // сколько первых вызовов WriteBatch падают
	down      atomic.Bool

	calls atomic.Int64

	mu      sync.Mutex
	batches []int
}

func newControlledSink() *controlledSink {
	return &controlledSink{MemorySink: NewMemorySink()}
}

func (s *controlledSink) WriteBatch(ctx context.Context, records []Record) error {
	n := s.calls.Add(1)

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n <= s.failFirst || s.down.Load() {
		return errSinkDown
	}

	s.mu.Lock()
	s.batches = append(s.batches, len(records))
	s.mu.Unlock()
	return s.MemorySink.WriteBatch(ctx, records)
}

// successfulBatches — размеры успешно записанных пачек по порядку.
func (s *controlledSink) successfulBatches() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...)
}

func TestMemorySink_QueryFilters(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()
	base := fixedNow()

	recs := []Record{
		NewRecord(Event{ActorID: "alice", Action: "INVOICE_CREATE", Timestamp: base}, nil, 1, base, "billing"),
		NewRecord(Event{ActorID: "bob", Action: "INVOICE_CREATE", Timestamp: base.Add(time.Minute)}, nil, 2, base, "billing"),
		NewRecord(Event{ActorID: "alice", Action: "LOGIN", Timestamp: base.Add(2 * time.Minute)}, nil, 3, base, "auth"),
		NewRecord(Event{ActorID: "alice", Action: "INVOICE_APPROVE", EntityType: "Invoice", EntityID: "INV-1", Timestamp: base.Add(3 * time.Minute)}, nil, 4, base, "billing"),
	}
	require.NoError(t, sink.WriteBatch(ctx, recs))

	byActor, err := sink.Query(ctx, Filter{ActorID: "alice"})
	require.NoError(t, err)
	require.Len(t, byActor, 3)
	assert.Equal(t, uint64(4), byActor[0].Seq, "newest first")
	assert.Equal(t, uint64(1), byActor[2].Seq)

	byEntity, err := sink.Query(ctx, Filter{EntityType: "Invoice", EntityID: "INV-1"})
	require.NoError(t, err)
	require.Len(t, byEntity, 1)
	assert.Equal(t, "INVOICE_APPROVE", byEntity[0].Action)

	window, err := sink.Query(ctx, Filter{From: base.Add(time.Minute), To: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, uint64(3), window[0].Seq)
	assert.Equal(t, uint64(2), window[1].Seq)

	limited, err := sink.Query(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, uint64(4), limited[0].Seq)

	n, err := sink.Count(ctx, Filter{ActorID: "alice", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMemorySink_QueryTieBreaksBySeq(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()

	require.NoError(t, sink.WriteBatch(ctx, []Record{testRecord(1, "A"), testRecord(2, "B"), testRecord(3, "C")}))

	got, err := sink.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"C", "B", "A"}, []string{got[0].Action, got[1].Action, got[2].Action})
}

func TestFilter_EffectiveLimit(t *testing.T) {
	assert.Equal(t, DefaultQueryLimit, Filter{}.EffectiveLimit())
	assert.Equal(t, DefaultQueryLimit, Filter{Limit: -3}.EffectiveLimit())
	assert.Equal(t, 25, Filter{Limit: 25}.EffectiveLimit())
	assert.Equal(t, MaxQueryLimit, Filter{Limit: 50000}.EffectiveLimit())
}

func TestMemorySink_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewMemorySink().WriteBatch(ctx, []Record{testRecord(1, "A")})
	assert.ErrorIs(t, err, context.Canceled)
}
