// Package redisrepo хранит счетчики последовательностей в Redis.
//
// Атомарность read-increment-write дает Lua-скрипт: Redis исполняет его целиком,
// не перемежая с другими командами, что эквивалентно блокировке строки на время инкремента.
package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/auditseq/internal/infra"
	"github.com/xela07ax/auditseq/internal/sequence"
)

const incrementScript = `
if redis.call("HSETNX", KEYS[1], "prefix", ARGV[1]) == 1 then
  redis.call("HSET", KEYS[1], "created_at", ARGV[2])
end
local n = redis.call("HINCRBY", KEYS[1], "last_number", 1)
redis.call("HSET", KEYS[1], "updated_at", ARGV[2])
return {n, redis.call("HGET", KEYS[1], "prefix")}
`

var incrementLua = redis.NewScript(incrementScript)

const resetScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "last_number", 0, "updated_at", ARGV[1])
return 1
`

var resetLua = redis.NewScript(resetScript)

var errUnexpectedReply = errors.New("redisrepo: unexpected script reply")

type SequenceRepo struct {
	rdb redis.Cmdable
	now func() time.Time
}

// NewSequenceRepo принимает *redis.Client, *redis.ClusterClient или Ring.
func NewSequenceRepo(rdb redis.Cmdable) *SequenceRepo {
	return &SequenceRepo{
		rdb: rdb,
		now: time.Now,
	}
}

func (r *SequenceRepo) Increment(ctx context.Context, sequenceType, prefix string) (sequence.Counter, error) {
	now := r.now()
	reply, err := incrementLua.Run(ctx, r.rdb,
		[]string{infra.SequenceKey(sequenceType)},
		prefix, now.UnixMilli(),
	).Slice()
	if err != nil {
		return sequence.Counter{}, fmt.Errorf("redisrepo: failed to increment sequence %s: %w", sequenceType, err)
	}
	if len(reply) != 2 {
		return sequence.Counter{}, errUnexpectedReply
	}

	n, ok := reply[0].(int64)
	if !ok {
		return sequence.Counter{}, errUnexpectedReply
	}
	storedPrefix, ok := reply[1].(string)
	if !ok {
		return sequence.Counter{}, errUnexpectedReply
	}

	return sequence.Counter{
		Type:       sequenceType,
		Prefix:     storedPrefix,
		LastNumber: n,
		UpdatedAt:  time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

// Reset обнуляет счетчик. Несуществующий тип не создается.
func (r *SequenceRepo) Reset(ctx context.Context, sequenceType string) error {
	err := resetLua.Run(ctx, r.rdb,
		[]string{infra.SequenceKey(sequenceType)},
		r.now().UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("redisrepo: failed to reset sequence %s: %w", sequenceType, err)
	}
	return nil
}

func (r *SequenceRepo) Get(ctx context.Context, sequenceType string) (sequence.Counter, bool, error) {
	fields, err := r.rdb.HGetAll(ctx, infra.SequenceKey(sequenceType)).Result()
	if err != nil {
		return sequence.Counter{}, false, fmt.Errorf("redisrepo: failed to get sequence %s: %w", sequenceType, err)
	}
	if len(fields) == 0 {
		return sequence.Counter{}, false, nil
	}

	n, err := strconv.ParseInt(fields["last_number"], 10, 64)
	if err != nil {
		return sequence.Counter{}, false, fmt.Errorf("redisrepo: corrupt last_number for %s: %w", sequenceType, err)
	}

	c := sequence.Counter{
		Type:       sequenceType,
		Prefix:     fields["prefix"],
		LastNumber: n,
	}
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		c.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return c, true, nil
}

var _ sequence.Store = (*SequenceRepo)(nil)
