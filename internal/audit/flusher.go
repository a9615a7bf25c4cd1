package audit

/*
Flusher — фоновый сброс очереди аудита в Sink.

- Batching: Flush забирает до BatchSize записей и пишет их одной пачкой;
  цикл по тикеру повторяет это, пока очередь не опустеет или хранилище не откажет.
- Триггеры: тикер FlushInterval и "пинок" от Client, когда очередь доросла до BatchSize
  (сам сброс идет здесь, в горутине воркера, а не на пути вызывающего кода).
- Requeue: при частичном отказе назад в очередь уходят только несохраненные записи,
  при полном — вся пачка. Запись, не сохранившаяся MaxAttempts циклов по тикеру,
  отбрасывается с предупреждением в лог (бесконечные ретраи = бесконечный рост памяти).
  Сбросы по пинку попытки не тратят, а после неудачи пинки игнорируются до следующего тика:
  иначе всплеск трафика во время короткого сбоя выжег бы весь бюджет за миллисекунды.
- Drain: финальная синхронная вычитка при остановке, ограниченная контекстом.
  Попытки в Drain тоже не считаются, предел задает только дедлайн.
*/

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type FlusherConfig struct {
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int           // сколько циклов по тикеру запись может не сохраниться
	DrainPause  time.Duration // пауза между неудачными попытками в Drain
}

func DefaultFlusherConfig() FlusherConfig {
	return FlusherConfig{
		BatchSize:   50,
		Interval:    5 * time.Second,
		MaxAttempts: 5,
		DrainPause:  200 * time.Millisecond,
	}
}

type Flusher struct {
	queue   *Queue
	sink    Sink
	cfg     FlusherConfig
	logger  *zap.Logger
	metrics *Metrics

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// writeCtx живет дольше расписания: Stop прерывает запись, только если истек его дедлайн
	writeCtx    context.Context
	abortWrites context.CancelFunc

	// Пока хранилище лежит, ошибка повторяется каждый цикл — не заливаем ей лог
	errLog rate.Sometimes
}

func NewFlusher(queue *Queue, sink Sink, cfg FlusherConfig, logger *zap.Logger, metrics *Metrics) *Flusher {
	def := DefaultFlusherConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.DrainPause <= 0 {
		cfg.DrainPause = def.DrainPause
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Flusher{
		queue:   queue,
		sink:    sink,
		cfg:     cfg,
		logger:  logger.With(zap.String("mod", "audit-flusher")),
		metrics: metrics,
		kick:    make(chan struct{}, 1),
		errLog:  rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
}

func (f *Flusher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.writeCtx, f.abortWrites = context.WithCancel(context.Background())

	f.wg.Add(1)
	go f.worker(ctx)

	f.logger.Info("audit flusher started",
		zap.Int("batch_size", f.cfg.BatchSize),
		zap.Duration("interval", f.cfg.Interval),
	)
}

// Trigger просит воркер сбросить очередь вне расписания. Никогда не блокирует.
func (f *Flusher) Trigger() {
	select {
	case f.kick <- struct{}{}:
	default:
		// пинок уже лежит в канале
	}
}

// Stop останавливает расписание и ждет завершения текущего цикла, но не дольше ctx.
// По дедлайну текущая запись прерывается, пачка возвращается в очередь. Очередь не трогает.
func (f *Flusher) Stop(ctx context.Context) {
	if f.cancel == nil {
		return
	}
	f.cancel()
	if !waitContext(ctx, &f.wg) {
		f.abortWrites()
		f.wg.Wait()
	}
	f.abortWrites()
}

// waitContext ждет wg не дольше ctx. false — дедлайн наступил раньше.
func waitContext(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (f *Flusher) worker(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	// хранилище недавно отказало: до следующего тика пинки не трогают его
	kicksPaused := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Цикл по тикеру вычитывает очередь целиком пачками по BatchSize,
			// каждая запись тратит на нем не больше одной попытки
			kicksPaused = false
			for f.queue.Len() > 0 && ctx.Err() == nil {
				if _, err := f.flushBatch(f.writeCtx, true); err != nil {
					kicksPaused = true
					break
				}
			}
		case <-f.kick:
			if kicksPaused {
				continue
			}
			// Всплеск трафика: сбрасываем полные пачки, хвост дождется тикера
			for f.queue.Len() >= f.cfg.BatchSize && ctx.Err() == nil {
				if _, err := f.flushBatch(f.writeCtx, false); err != nil {
					kicksPaused = true
					break
				}
			}
		}
	}
}

// Flush выполняет один цикл: до BatchSize записей одной пачкой.
// Возвращает число сохраненных записей.
func (f *Flusher) Flush(ctx context.Context) (int, error) {
	return f.flushBatch(ctx, true)
}

// flushBatch — один цикл сброса. countAttempt=false (пинок, Drain): неудача не приближает
// запись к MaxAttempts. Прерванная по ctx запись тоже не считается попыткой.
func (f *Flusher) flushBatch(ctx context.Context, countAttempt bool) (int, error) {
	batch := f.queue.popBatch(f.cfg.BatchSize)
	if len(batch) == 0 {
		return 0, nil
	}
	defer f.metrics.QueueDepth.Set(float64(f.queue.Len()))

	records := make([]Record, len(batch))
	for i, e := range batch {
		records[i] = e.rec
	}

	err := f.sink.WriteBatch(ctx, records)
	if err == nil {
		f.metrics.Persisted.Add(float64(len(batch)))
		f.logger.Debug("audit batch flushed", zap.Int("count", len(batch)))
		return len(batch), nil
	}

	failed := batch
	var pe *PartialWriteError
	if errors.As(err, &pe) {
		failed = make([]entry, 0, len(pe.Failed))
		for _, idx := range pe.Failed {
			if idx >= 0 && idx < len(batch) {
				failed = append(failed, batch[idx])
			}
		}
	}
	persisted := len(batch) - len(failed)
	f.metrics.Persisted.Add(float64(persisted))

	counted := countAttempt && ctx.Err() == nil
	retryable := make([]entry, 0, len(failed))
	for _, e := range failed {
		if !counted {
			retryable = append(retryable, e)
			continue
		}
		e.attempts++
		if e.attempts >= f.cfg.MaxAttempts {
			f.metrics.Dropped.WithLabelValues(dropMaxAttempts).Inc()
			f.logger.Warn("audit record dropped after repeated flush failures",
				zap.String("id", e.rec.ID),
				zap.String("action", e.rec.Action),
				zap.String("actor_id", e.rec.ActorID),
				zap.Int("attempts", e.attempts),
				zap.Error(err),
			)
			continue
		}
		retryable = append(retryable, e)
	}
	f.queue.requeue(retryable)
	f.metrics.Requeued.Add(float64(len(retryable)))

	f.errLog.Do(func() {
		f.logger.Error("audit flush failed",
			zap.Int("batch", len(batch)),
			zap.Int("persisted", persisted),
			zap.Int("requeued", len(retryable)),
			zap.Error(err),
		)
	})
	return persisted, err
}

// Drain синхронно вычитывает очередь до пустоты или до отмены ctx.
// Все, что осталось после ctx.Done(), отбрасывается; возвращается число потерянных записей.
func (f *Flusher) Drain(ctx context.Context) (int, error) {
	for f.queue.Len() > 0 && ctx.Err() == nil {
		if _, err := f.flushBatch(ctx, false); err != nil {
			select {
			case <-ctx.Done():
			case <-time.After(f.cfg.DrainPause):
			}
		}
	}

	rest := f.queue.drain()
	f.metrics.QueueDepth.Set(0)
	if len(rest) == 0 {
		return 0, nil
	}

	f.metrics.Dropped.WithLabelValues(dropShutdown).Add(float64(len(rest)))
	f.logger.Error("audit records discarded on shutdown",
		zap.Int("discarded", len(rest)),
		zap.Error(ctx.Err()),
	)
	return len(rest), fmt.Errorf("%w: %d records discarded", ErrShutdownTimeout, len(rest))
}
