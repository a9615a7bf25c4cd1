package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config — все ручки пайплайна аудита.
type Config struct {
	BatchSize           int
	FlushInterval       time.Duration
	QueueCapacity       int // 0 - без ограничения
	MaxFlushAttempts    int
	ShutdownGracePeriod time.Duration
	DrainRetryPause     time.Duration
	ServiceName         string
	Retry               RetryConfig
	Breaker             BreakerConfig
}

func DefaultConfig() Config {
	fc := DefaultFlusherConfig()
	return Config{
		BatchSize:           fc.BatchSize,
		FlushInterval:       fc.Interval,
		MaxFlushAttempts:    fc.MaxAttempts,
		ShutdownGracePeriod: 10 * time.Second,
		DrainRetryPause:     fc.DrainPause,
		ServiceName:         "auditseq",
		Retry:               DefaultRetryConfig(),
		Breaker:             DefaultBreakerConfig(),
	}
}

// Client — точка входа для бизнес-кода.
// Record* никогда не возвращают ошибок и не роняют бизнес-транзакцию:
// аудит — побочный канал, а не система учета.
type Client struct {
	cfg      Config
	queue    *Queue
	writer   *RetryingWriter
	flusher  *Flusher
	redactor *Redactor
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time

	seq atomic.Uint64

	// RLock — постановка в очередь, Lock — перевод в closed.
	// Так ни одна запись не проскочит в очередь после финального Drain.
	mu     sync.RWMutex
	closed bool

	// Синхронные записи, начатые до Shutdown: их fallback в очередь Drain дождется.
	// syncCtx отменяется, когда истек grace period.
	inflight   sync.WaitGroup
	syncCtx    context.Context
	cancelSync context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

type ClientOption func(*Client)

func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func WithRedactor(r *Redactor) ClientOption {
	return func(c *Client) { c.redactor = r }
}

func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient создает клиента и сразу запускает фоновый Flusher.
// Жизненный цикл воркера привязан к экземпляру: NewClient ... Shutdown.
func NewClient(sink Sink, cfg Config, logger *zap.Logger, opts ...ClientOption) *Client {
	def := DefaultConfig()
	if cfg.ShutdownGracePeriod <= 0 {
		cfg.ShutdownGracePeriod = def.ShutdownGracePeriod
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = def.ServiceName
	}

	c := &Client{
		cfg:      cfg,
		queue:    NewQueue(cfg.QueueCapacity),
		redactor: NewRedactor(),
		logger:   logger.With(zap.String("mod", "audit")),
		now:      time.Now,
	}
	c.syncCtx, c.cancelSync = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}

	c.writer = NewRetryingWriter(sink, cfg.Retry, cfg.Breaker, logger, c.metrics)
	c.flusher = NewFlusher(c.queue, sink, FlusherConfig{
		BatchSize:   cfg.BatchSize,
		Interval:    cfg.FlushInterval,
		MaxAttempts: cfg.MaxFlushAttempts,
		DrainPause:  cfg.DrainRetryPause,
	}, logger, c.metrics)
	c.cfg.BatchSize = c.flusher.cfg.BatchSize

	c.flusher.Start()
	return c
}

// RecordAudit — асинхронная запись (fire-and-forget). Не ждет никакого I/O.
func (c *Client) RecordAudit(actorID, action, details string, opts ...Option) {
	c.Record(newEvent(actorID, action, details, opts))
}

// RecordAuditSync — синхронная запись с ограниченным ретраем; при неудаче запись уходит в очередь.
func (c *Client) RecordAuditSync(actorID, action, details string, opts ...Option) {
	c.RecordSync(newEvent(actorID, action, details, opts))
}

func (c *Client) Record(ev Event) {
	defer c.recoverPanic(ev.Action)

	rec := c.build(ev)
	c.enqueue(rec)
}

func (c *Client) RecordSync(ev Event) {
	defer c.recoverPanic(ev.Action)

	rec := c.build(ev)

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		c.dropClosed(rec)
		return
	}
	c.inflight.Add(1)
	c.mu.RUnlock()
	defer c.inflight.Done()

	// Вызывающий код не может отменить запись: ретраи ограничены бэкоффом
	// и прерываются только по истечении grace period при Shutdown.
	err := c.writer.Write(c.syncCtx, rec)
	if err == nil {
		c.metrics.Persisted.Inc()
		c.logger.Debug("audit record saved", zap.String("id", rec.ID), zap.String("action", rec.Action))
		return
	}

	c.metrics.SyncFallbacks.Inc()
	c.logger.Warn("audit sync write failed, record queued for batch flush",
		zap.String("id", rec.ID),
		zap.String("action", rec.Action),
		zap.Error(err),
	)
	// Даже если Shutdown уже начался: он ждет inflight и вычитает запись в Drain
	c.push(rec)
}

// Pending — сколько записей ждет сохранения.
func (c *Client) Pending() int {
	return c.queue.Len()
}

// Stats — снимок состояния пайплайна для healthcheck.
type Stats struct {
	Pending int    `json:"pending"`
	Evicted uint64 `json:"evicted"`
	Breaker string `json:"breaker"`
}

func (c *Client) Stats() Stats {
	return Stats{
		Pending: c.queue.Len(),
		Evicted: c.queue.Dropped(),
		Breaker: c.writer.BreakerState().String(),
	}
}

// Shutdown останавливает фоновый сброс и делает финальный Drain,
// ограниченный ShutdownGracePeriod (и дедлайном ctx, если он раньше).
// Возвращает ошибку с ErrShutdownTimeout, если часть записей пришлось отбросить.
// Повторные вызовы возвращают тот же результат.
func (c *Client) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.logger.Info("stopping audit client: flushing pending records...", zap.Int("pending", c.queue.Len()))

		// Один дедлайн на все: текущий цикл воркера, синхронные записи и Drain
		drainCtx, cancel := context.WithTimeout(ctx, c.cfg.ShutdownGracePeriod)
		defer cancel()

		c.flusher.Stop(drainCtx)
		if !waitContext(drainCtx, &c.inflight) {
			c.cancelSync()
			c.inflight.Wait()
		}
		c.cancelSync()

		discarded, err := c.flusher.Drain(drainCtx)
		c.shutdownErr = err
		if err != nil {
			c.logger.Warn("audit client stopped with losses", zap.Int("discarded", discarded))
			return
		}
		c.logger.Info("audit client stopped gracefully")
	})
	return c.shutdownErr
}

func (c *Client) build(ev Event) Record {
	return NewRecord(ev, c.redactor, c.seq.Add(1), c.now(), c.cfg.ServiceName)
}

func (c *Client) enqueue(rec Record) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		c.dropClosed(rec)
		return
	}
	c.push(rec)
	c.mu.RUnlock()
}

func (c *Client) push(rec Record) {
	accepted := c.queue.Push(rec)
	depth := c.queue.Len()

	c.metrics.Enqueued.Inc()
	c.metrics.QueueDepth.Set(float64(depth))
	if !accepted {
		c.metrics.Dropped.WithLabelValues(dropCapacity).Inc()
		c.logger.Warn("audit queue at capacity, oldest record evicted", zap.Int("capacity", c.cfg.QueueCapacity))
	}
	if depth >= c.cfg.BatchSize {
		c.flusher.Trigger()
	}
}

func (c *Client) dropClosed(rec Record) {
	c.metrics.Dropped.WithLabelValues(dropClosed).Inc()
	c.logger.Warn("audit record dropped: client is stopping",
		zap.String("id", rec.ID),
		zap.String("action", rec.Action),
		zap.String("actor_id", rec.ActorID),
		zap.Error(ErrClientClosed),
	)
}

// Любой внутренний сбой логируется и не доходит до бизнес-кода.
func (c *Client) recoverPanic(action string) {
	if r := recover(); r != nil {
		c.logger.Error("audit record failed internally", zap.String("action", action), zap.Any("panic", r))
	}
}
