package redisrepo

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/auditseq/internal/infra"
	"github.com/xela07ax/auditseq/internal/sequence"
	"go.uber.org/zap"
)

func newTestRepo(t *testing.T) (*SequenceRepo, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewSequenceRepo(rdb), mr
}

func TestSequenceRepo_IncrementCreatesHash(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepo(t)

	c, err := repo.Increment(ctx, "AP", "AP")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.LastNumber)
	assert.Equal(t, "AP", c.Prefix)

	c, err = repo.Increment(ctx, "AP", "XX")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.LastNumber)
	assert.Equal(t, "AP", c.Prefix, "prefix is fixed on creation")

	key := infra.SequenceKey("AP")
	assert.Equal(t, "auditseq:sequence:AP", key)
	assert.Equal(t, "2", mr.HGet(key, "last_number"))
	assert.NotEmpty(t, mr.HGet(key, "created_at"))
}

func TestSequenceRepo_GetAndReset(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepo(t)

	_, found, err := repo.Get(ctx, "AR")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.Reset(ctx, "AR"))
	assert.False(t, mr.Exists(infra.SequenceKey("AR")), "reset of unknown type creates nothing")

	for i := 0; i < 4; i++ {
		_, err := repo.Increment(ctx, "AR", "AR")
		require.NoError(t, err)
	}

	got, found, err := repo.Get(ctx, "AR")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(4), got.LastNumber)
	assert.Equal(t, "AR", got.Prefix)
	assert.False(t, got.UpdatedAt.IsZero())

	require.NoError(t, repo.Reset(ctx, "AR"))
	got, _, err = repo.Get(ctx, "AR")
	require.NoError(t, err)
	assert.Zero(t, got.LastNumber)
}

func TestSequenceRepo_ConcurrentIncrement(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	const workers, perWorker = 10, 30

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

func TestSequenceRepo_UnavailableIsStorageError(t *testing.T) {
	repo, mr := newTestRepo(t)
	mr.Close()

	gen := sequence.NewGenerator(repo, zap.NewNop(), sequence.WithLocation(time.UTC))

	_, err := gen.NextAccountReceivable(context.Background())
	require.Error(t, err)

	var se *sequence.StorageError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Retryable())
	assert.Equal(t, "AR", se.Type)
}

func TestSequenceRepo_BehindGenerator(t *testing.T) {
	repo, _ := newTestRepo(t)
	day := time.Date(2024, 1, 18, 23, 59, 0, 0, time.UTC)

	gen := sequence.NewGenerator(repo, zap.NewNop(),
		sequence.WithClock(func() time.Time { return day }),
		sequence.WithLocation(time.UTC),
	)

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := gen.NextAccountPayable(ctx)
			assert.NoError(t, err)
			results[i] = n
		}(i)
	}
	wg.Wait()

	sort.Strings(results)
	assert.Equal(t, []string{"AP-20240118-0001", "AP-20240118-0002"}, results)
}
