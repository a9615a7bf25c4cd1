package audit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RetryConfig — ограниченный экспоненциальный бэкофф синхронной записи.
type RetryConfig struct {
	MaxAttempts uint
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
	}
}

// BreakerConfig — предохранитель перед Sink на синхронном пути.
// Когда хранилище заведомо лежит, RecordSync не ждет весь бэкофф, а сразу уходит в очередь.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	MaxRequests         uint32        // пробных запросов в half-open
	Interval            time.Duration // сброс счетчиков в closed (0 - никогда)
	Timeout             time.Duration // через сколько open -> half-open
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		MaxRequests:         1,
		Timeout:             30 * time.Second,
	}
}

// backoffDelay — задержка перед следующей попыткой после attempt-й неудачи (attempt >= 1).
func backoffDelay(cfg RetryConfig, attempt uint) time.Duration {
	if attempt == 0 {
		attempt = 1
	}
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

// RetryingWriter — синхронная запись одной записи: ретраи + Circuit Breaker.
// Сам в очередь не пишет: решение о fallback принимает Client.
type RetryingWriter struct {
	sink    Sink
	cfg     RetryConfig
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *Metrics
}

func NewRetryingWriter(sink Sink, cfg RetryConfig, bcfg BreakerConfig, logger *zap.Logger, metrics *Metrics) *RetryingWriter {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1 // retry-go трактует 0 как "бесконечно"
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	w := &RetryingWriter{
		sink:    sink,
		cfg:     cfg,
		logger:  logger.With(zap.String("mod", "audit-writer")),
		metrics: metrics,
	}

	threshold := bcfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = DefaultBreakerConfig().ConsecutiveFailures
	}
	w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "audit-sink",
		MaxRequests: bcfg.MaxRequests,
		Interval:    bcfg.Interval,
		Timeout:     bcfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			w.metrics.CircuitBreakerState.Set(breakerGauge(to))
		},
	})
	return w
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}

// Write пытается сохранить запись до MaxAttempts раз.
// Открытый предохранитель прерывает ретраи сразу.
func (w *RetryingWriter) Write(ctx context.Context, rec Record) error {
	var attempt uint

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(w.cfg.MaxAttempts),
		retry.DelayType(func(_ uint, _ error, _ retry.DelayContext) time.Duration {
			return backoffDelay(w.cfg, attempt)
		}),
	)

	err := r.Do(func() error {
		attempt++
		_, err := w.cb.Execute(func() (interface{}, error) {
			return nil, w.sink.WriteBatch(ctx, []Record{rec})
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return retry.Unrecoverable(fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
		}

		w.metrics.SyncRetries.Inc()
		w.logger.Warn("audit write attempt failed",
			zap.String("id", rec.ID),
			zap.Uint("attempt", attempt),
			zap.Uint("max_attempts", w.cfg.MaxAttempts),
			zap.Error(err),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("audit: write failed after %d attempts: %w", attempt, err)
	}
	return nil
}

// BreakerState — для healthcheck и тестов.
func (w *RetryingWriter) BreakerState() gobreaker.State {
	return w.cb.State()
}
