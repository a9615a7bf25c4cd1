package sequence

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedDay = time.Date(2024, 1, 18, 10, 30, 0, 0, time.UTC)

func newTestGenerator(store Store, opts ...Option) *Generator {
	opts = append([]Option{
		WithClock(func() time.Time { return fixedDay }),
		WithLocation(time.UTC),
	}, opts...)
	return NewGenerator(store, zap.NewNop(), opts...)
}

// failingStore имитирует недоступное хранилище
type failingStore struct {
	err error
}

func (s *failingStore) Increment(context.Context, string, string) (Counter, error) {
	return Counter{}, s.err
}

func (s *failingStore) Reset(context.Context, string) error {
	return s.err
}

func (s *failingStore) Get(context.Context, string) (Counter, bool, error) {
	return Counter{}, false, s.err
}

func suffix(t *testing.T, number string) int64 {
	t.Helper()
	parts := strings.Split(number, "-")
	require.Len(t, parts, 3, "unexpected number format: %s", number)
	n, err := strconv.ParseInt(parts[2], 10, 64)
	require.NoError(t, err)
	return n
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "AP-20240118-0001", Format("AP", fixedDay, 1))
	assert.Equal(t, "AR-20240118-0042", Format("AR", fixedDay, 42))
	assert.Equal(t, "AP-20240118-9999", Format("AP", fixedDay, 9999))
	assert.Equal(t, "AP-20240118-12345", Format("AP", fixedDay, 12345))
}

func TestGenerator_TwoCallsSameDay(t *testing.T) {
	g := newTestGenerator(NewMemoryStore())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []string
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := g.Next(ctx, "AP")
			assert.NoError(t, err)
			mu.Lock()
			numbers = append(numbers, n)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"AP-20240118-0001", "AP-20240118-0002"}, numbers)
}

func TestGenerator_ConcurrentCallsAreGapFree(t *testing.T) {
	store := NewMemoryStore()
	g := newTestGenerator(store)
	ctx := context.Background()

	// стартуем не с нуля, чтобы проверить диапазон {old+1 .. old+N}
	for i := 0; i < 7; i++ {
		_, err := g.Next(ctx, "AP")
		require.NoError(t, err)
	}
	old, err := g.Current(ctx, "AP")
	require.NoError(t, err)

	const n = 500
	results := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := g.Next(ctx, "AP")
			if err == nil {
				results <- num
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, n)
	for num := range results {
		v := suffix(t, num)
		assert.False(t, seen[v], "duplicate number %s", num)
		seen[v] = true
	}
	require.Len(t, seen, n)
	for v := old + 1; v <= old+n; v++ {
		assert.True(t, seen[v], "missing number %d", v)
	}

	current, err := g.Current(ctx, "AP")
	require.NoError(t, err)
	assert.Equal(t, old+n, current)
}

func TestGenerator_TypesAreIndependent(t *testing.T) {
	g := newTestGenerator(NewMemoryStore())
	ctx := context.Background()

	_, err := g.NextAccountReceivable(ctx)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := g.NextAccountPayable(ctx)
		require.NoError(t, err)
	}

	ap, err := g.Current(ctx, "AP")
	require.NoError(t, err)
	ar, err := g.Current(ctx, "AR")
	require.NoError(t, err)

	assert.Equal(t, int64(5), ap)
	assert.Equal(t, int64(1), ar)
}

func TestGenerator_UnknownTypeCreatedLazily(t *testing.T) {
	g := newTestGenerator(NewMemoryStore(), WithPrefixes(map[string]string{"po": "PUR"}))
	ctx := context.Background()

	current, err := g.Current(ctx, "inv")
	require.NoError(t, err)
	assert.Equal(t, int64(0), current)

	n, err := g.Next(ctx, " inv ")
	require.NoError(t, err)
	assert.Equal(t, "INV-20240118-0001", n)

	// регистр типа не создает второй счетчик
	n, err = g.Next(ctx, "INV")
	require.NoError(t, err)
	assert.Equal(t, "INV-20240118-0002", n)

	n, err = g.Next(ctx, "PO")
	require.NoError(t, err)
	assert.Equal(t, "PUR-20240118-0001", n)
}

func TestGenerator_EmptyType(t *testing.T) {
	g := newTestGenerator(&failingStore{err: errors.New("must not be called")})
	ctx := context.Background()

	_, err := g.Next(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidSequenceType)
	assert.ErrorIs(t, g.Reset(ctx, ""), ErrInvalidSequenceType)
	_, err = g.Current(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidSequenceType)
}

func TestGenerator_StorageFailurePropagates(t *testing.T) {
	cause := errors.New("connection refused")
	g := newTestGenerator(&failingStore{err: cause})
	ctx := context.Background()

	n, err := g.Next(ctx, "AP")
	require.Error(t, err)
	assert.Empty(t, n)

	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "increment", se.Op)
	assert.Equal(t, "AP", se.Type)
	assert.True(t, se.Retryable())
	assert.ErrorIs(t, err, cause)

	err = g.Reset(ctx, "AP")
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "reset", se.Op)

	_, err = g.Current(ctx, "AP")
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "get", se.Op)
}

func TestGenerator_StorageErrorNotDoubleWrapped(t *testing.T) {
	inner := &StorageError{Op: "increment", Type: "AP", Err: errors.New("lock timeout")}
	g := newTestGenerator(&failingStore{err: inner})

	_, err := g.Next(context.Background(), "AP")
	assert.Same(t, inner, err)
}

func TestGenerator_Reset(t *testing.T) {
	g := newTestGenerator(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.Next(ctx, "AR")
		require.NoError(t, err)
	}
	require.NoError(t, g.Reset(ctx, "AR"))

	current, err := g.Current(ctx, "AR")
	require.NoError(t, err)
	assert.Equal(t, int64(0), current)

	n, err := g.Next(ctx, "AR")
	require.NoError(t, err)
	assert.Equal(t, "AR-20240118-0001", n)

	// сброс несуществующего типа не создает его
	require.NoError(t, g.Reset(ctx, "ZZ"))
	_, found, err := g.store.Get(ctx, "ZZ")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGenerator_UsesConfiguredLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	late := time.Date(2024, 1, 18, 22, 0, 0, 0, time.UTC)
	g := NewGenerator(NewMemoryStore(), zap.NewNop(),
		WithClock(func() time.Time { return late }),
		WithLocation(loc),
	)

	n, err := g.Next(context.Background(), "AP")
	require.NoError(t, err)
	assert.Equal(t, "AP-20240119-0001", n)
}
