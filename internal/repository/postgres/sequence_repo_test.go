package postgres

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/auditseq/internal/sequence"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupSequenceDB — SQLite в памяти. Диалект SQLite опускает FOR UPDATE,
// сериализацию здесь дает единственное соединение пула.
func setupSequenceDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// каждое соединение к :memory: — отдельная база
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&sequenceModel{}))
	return db
}

func TestSequenceRepo_IncrementCreatesRow(t *testing.T) {
	ctx := context.Background()
	repo := NewSequenceRepo(setupSequenceDB(t))

	c, err := repo.Increment(ctx, "AP", "AP")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.LastNumber)
	assert.Equal(t, "AP", c.Prefix)

	// префикс фиксируется при создании строки
	c, err = repo.Increment(ctx, "AP", "XX")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.LastNumber)
	assert.Equal(t, "AP", c.Prefix)

	got, found, err := repo.Get(ctx, "AP")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), got.LastNumber)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSequenceRepo_ResetAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSequenceRepo(setupSequenceDB(t))

	_, found, err := repo.Get(ctx, "AR")
	require.NoError(t, err)
	assert.False(t, found)

	// сброс несуществующего типа строку не создает
	require.NoError(t, repo.Reset(ctx, "AR"))
	_, found, err = repo.Get(ctx, "AR")
	require.NoError(t, err)
	assert.False(t, found)

	for i := 0; i < 3; i++ {
		_, err := repo.Increment(ctx, "AR", "AR")
		require.NoError(t, err)
	}
	require.NoError(t, repo.Reset(ctx, "AR"))

	got, found, err := repo.Get(ctx, "AR")
	require.NoError(t, err)
	require.True(t, found)
	assert.Zero(t, got.LastNumber)

	c, err := repo.Increment(ctx, "AR", "AR")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.LastNumber)
}

func TestSequenceRepo_TypesAreIndependent(t *testing.T) {
	ctx := context.Background()
	repo := NewSequenceRepo(setupSequenceDB(t))

	for i := 0; i < 5; i++ {
		_, err := repo.Increment(ctx, "AP", "AP")
		require.NoError(t, err)
	}
	c, err := repo.Increment(ctx, "AR", "AR")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.LastNumber)

	ap, _, err := repo.Get(ctx, "AP")
	require.NoError(t, err)
	assert.Equal(t, int64(5), ap.LastNumber)
}

func TestSequenceRepo_ConcurrentIncrementIsGapFree(t *testing.T) {
	ctx := context.Background()
	repo := NewSequenceRepo(setupSequenceDB(t))

	const workers, perWorker = 8, 25

	var mu sync.Mutex
	var got []int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c, err := repo.Increment(ctx, "AP", "AP")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				got = append(got, c.LastNumber)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, workers*perWorker)
	for i, n := range got {
		assert.Equal(t, int64(i+1), n)
	}
}

func TestSequenceRepo_BehindGenerator(t *testing.T) {
	repo := NewSequenceRepo(setupSequenceDB(t))
	day := time.Date(2024, 1, 18, 9, 0, 0, 0, time.UTC)

	gen := sequence.NewGenerator(repo, zap.NewNop(),
		sequence.WithClock(func() time.Time { return day }),
		sequence.WithLocation(time.UTC),
		sequence.WithPrefixes(map[string]string{"PO": "PUR"}),
	)

	ctx := context.Background()
	first, err := gen.NextAccountPayable(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AP-20240118-0001", first)

	second, err := gen.Next(ctx, "ap")
	require.NoError(t, err)
	assert.Equal(t, "AP-20240118-0002", second)

	po, err := gen.Next(ctx, "PO")
	require.NoError(t, err)
	assert.Equal(t, "PUR-20240118-0001", po)

	cur, err := gen.Current(ctx, "AP")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur)
}

func TestSequenceRepo_CancelledContext(t *testing.T) {
	repo := NewSequenceRepo(setupSequenceDB(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Increment(ctx, "AP", "AP")
	assert.Error(t, err)
}
