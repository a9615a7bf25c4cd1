package audit

import (
	"context"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastRetry(attempts uint) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 1*time.Second, backoffDelay(cfg, 1))
	assert.Equal(t, 2*time.Second, backoffDelay(cfg, 2))
	assert.Equal(t, 4*time.Second, backoffDelay(cfg, 3))
	assert.Equal(t, 5*time.Second, backoffDelay(cfg, 4), "capped by MaxDelay")
	assert.Equal(t, 1*time.Second, backoffDelay(cfg, 0))
}

func TestRetryingWriter_SucceedsAfterTransientFailures(t *testing.T) {
	sink := newControlledSink()
	sink.failFirst = 2

	w := NewRetryingWriter(sink, fastRetry(3), DefaultBreakerConfig(), zap.NewNop(), nil)

	require.NoError(t, w.Write(context.Background(), testRecord(1, "A")))
	assert.Equal(t, int64(3), sink.calls.Load())
	assert.Equal(t, 1, sink.Len())
}

func TestRetryingWriter_GivesUpAfterMaxAttempts(t *testing.T) {
	sink := newControlledSink()
	sink.down.Store(true)

	w := NewRetryingWriter(sink, fastRetry(3), DefaultBreakerConfig(), zap.NewNop(), nil)

	err := w.Write(context.Background(), testRecord(1, "A"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errSinkDown)
	assert.Equal(t, int64(3), sink.calls.Load())
	assert.Equal(t, 0, sink.Len())
}

func TestRetryingWriter_OpenBreakerShortCircuits(t *testing.T) {
	sink := newControlledSink()
	sink.down.Store(true)

	bcfg := BreakerConfig{ConsecutiveFailures: 2, MaxRequests: 1, Timeout: time.Minute}
	w := NewRetryingWriter(sink, fastRetry(2), bcfg, zap.NewNop(), nil)

	require.Error(t, w.Write(context.Background(), testRecord(1, "A")))
	assert.Equal(t, gobreaker.StateOpen, w.BreakerState())

	calls := sink.calls.Load()
	err := w.Write(context.Background(), testRecord(2, "A"))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, calls, sink.calls.Load(), "sink must not be called while breaker is open")
}
