package sequence

/*
Генератор человекочитаемых номеров документов (счета AP/AR и т.п.).

Формат: PREFIX-YYYYMMDD-NNNN, где NNNN — значение счетчика после инкремента,
минимум 4 цифры (дальше ширина растет сама).

Вся сериализация живет в Store: блокировка строки держится только на время
read-increment-write и никогда не захватывает форматирование или бизнес-логику
вызывающего кода. Ошибка хранилища всегда пробрасывается наверх как *StorageError:
номер без гарантии уникальности хуже, чем неудавшаяся операция.
*/

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	TypeAccountPayable    = "AP"
	TypeAccountReceivable = "AR"

	dateLayout = "20060102"
)

type Generator struct {
	store    Store
	prefixes map[string]string
	now      func() time.Time
	loc      *time.Location
	logger   *zap.Logger
	metrics  *Metrics
}

type Option func(*Generator)

// WithPrefixes переопределяет префикс для конкретных типов (по умолчанию префикс = тип).
func WithPrefixes(prefixes map[string]string) Option {
	return func(g *Generator) {
		for t, p := range prefixes {
			g.prefixes[normalizeType(t)] = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(g *Generator) {
		if loc != nil {
			g.loc = loc
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

func NewGenerator(store Store, logger *zap.Logger, opts ...Option) *Generator {
	g := &Generator{
		store:    store,
		prefixes: make(map[string]string),
		now:      time.Now,
		loc:      time.Local,
		logger:   logger.With(zap.String("mod", "sequence")),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(nil)
	}
	return g
}

// Next выдает следующий номер для типа. Неизвестный тип создается с last_number = 0.
func (g *Generator) Next(ctx context.Context, sequenceType string) (string, error) {
	t := normalizeType(sequenceType)
	if t == "" {
		return "", ErrInvalidSequenceType
	}

	start := time.Now()
	counter, err := g.store.Increment(ctx, t, g.prefixFor(t))
	g.metrics.AllocationDuration.WithLabelValues(t).Observe(time.Since(start).Seconds())
	if err != nil {
		g.metrics.Failures.WithLabelValues(t).Inc()
		g.logger.Error("sequence allocation failed", zap.String("sequence_type", t), zap.Error(err))
		return "", wrapStorage("increment", t, err)
	}
	g.metrics.Allocations.WithLabelValues(t).Inc()

	return Format(counter.Prefix, g.now().In(g.loc), counter.LastNumber), nil
}

// NextAccountPayable — номер для счета к оплате (AP-YYYYMMDD-NNNN).
func (g *Generator) NextAccountPayable(ctx context.Context) (string, error) {
	return g.Next(ctx, TypeAccountPayable)
}

// NextAccountReceivable — номер для счета к получению (AR-YYYYMMDD-NNNN).
func (g *Generator) NextAccountReceivable(ctx context.Context) (string, error) {
	return g.Next(ctx, TypeAccountReceivable)
}

// Reset обнуляет счетчик. Только для операторского инструментария.
func (g *Generator) Reset(ctx context.Context, sequenceType string) error {
	t := normalizeType(sequenceType)
	if t == "" {
		return ErrInvalidSequenceType
	}
	if err := g.store.Reset(ctx, t); err != nil {
		return wrapStorage("reset", t, err)
	}
	g.logger.Warn("sequence reset", zap.String("sequence_type", t))
	return nil
}

// Current — read-only просмотр last_number; для несуществующего типа 0.
func (g *Generator) Current(ctx context.Context, sequenceType string) (int64, error) {
	t := normalizeType(sequenceType)
	if t == "" {
		return 0, ErrInvalidSequenceType
	}
	counter, found, err := g.store.Get(ctx, t)
	if err != nil {
		return 0, wrapStorage("get", t, err)
	}
	if !found {
		return 0, nil
	}
	return counter.LastNumber, nil
}

func (g *Generator) prefixFor(t string) string {
	if p, ok := g.prefixes[t]; ok && p != "" {
		return p
	}
	return t
}

// Format собирает номер вида PREFIX-YYYYMMDD-NNNN.
func Format(prefix string, day time.Time, number int64) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format(dateLayout), number)
}

// "ap" и "AP" — один и тот же счетчик, иначе два ряда выдали бы одинаковые номера.
func normalizeType(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
