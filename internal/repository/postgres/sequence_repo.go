package postgres

/*
Файл sequence_repo.go — счетчики номеров документов в таблице invoice_sequences.

Increment выполняет read-increment-write в одной транзакции под SELECT ... FOR UPDATE:
параллельные вызовы одного типа сериализуются на блокировке строки,
разные типы блокируют разные строки и друг другу не мешают.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/auditseq/internal/sequence"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sequenceModel — строка invoice_sequences. Время выставляется явно, без autoCreate/autoUpdate хуков gorm.
type sequenceModel struct {
	SequenceType string    `gorm:"column:sequence_type;primaryKey;size:32"`
	Prefix       string    `gorm:"column:prefix;size:16;not null"`
	LastNumber   int64     `gorm:"column:last_number;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime:false;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime:false;not null"`
}

func (sequenceModel) TableName() string {
	return "invoice_sequences"
}

func (m sequenceModel) toCounter() sequence.Counter {
	return sequence.Counter{
		Type:       m.SequenceType,
		Prefix:     m.Prefix,
		LastNumber: m.LastNumber,
		UpdatedAt:  m.UpdatedAt,
	}
}

type SequenceRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSequenceRepo(db *gorm.DB) *SequenceRepo {
	return &SequenceRepo{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *SequenceRepo) Increment(ctx context.Context, sequenceType, prefix string) (sequence.Counter, error) {
	var out sequence.Counter

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := r.lockRow(tx, sequenceType)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Первое обращение к типу. Конкурентные создатели: один вставит строку,
			// остальные получат DO NOTHING и прочитают ее уже под блокировкой.
			now := r.now()
			seed := sequenceModel{SequenceType: sequenceType, Prefix: prefix, CreatedAt: now, UpdatedAt: now}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
				return fmt.Errorf("create counter: %w", err)
			}
			row, err = r.lockRow(tx, sequenceType)
		}
		if err != nil {
			return err
		}

		row.LastNumber++
		row.UpdatedAt = r.now()

		res := tx.Model(&sequenceModel{}).
			Where("sequence_type = ?", sequenceType).
			Updates(map[string]interface{}{
				"last_number": row.LastNumber,
				"updated_at":  row.UpdatedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("update counter: %w", res.Error)
		}

		out = row.toCounter()
		return nil
	})
	if err != nil {
		return sequence.Counter{}, fmt.Errorf("postgres: failed to increment sequence %s: %w", sequenceType, err)
	}
	return out, nil
}

func (r *SequenceRepo) lockRow(tx *gorm.DB, sequenceType string) (sequenceModel, error) {
	var row sequenceModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("sequence_type = ?", sequenceType).
		Take(&row).Error
	return row, err
}

// Reset обнуляет счетчик. Несуществующий тип не создается.
func (r *SequenceRepo) Reset(ctx context.Context, sequenceType string) error {
	err := r.db.WithContext(ctx).
		Model(&sequenceModel{}).
		Where("sequence_type = ?", sequenceType).
		Updates(map[string]interface{}{
			"last_number": 0,
			"updated_at":  r.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("postgres: failed to reset sequence %s: %w", sequenceType, err)
	}
	return nil
}

func (r *SequenceRepo) Get(ctx context.Context, sequenceType string) (sequence.Counter, bool, error) {
	var row sequenceModel
	err := r.db.WithContext(ctx).Where("sequence_type = ?", sequenceType).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sequence.Counter{}, false, nil
	}
	if err != nil {
		return sequence.Counter{}, false, fmt.Errorf("postgres: failed to get sequence %s: %w", sequenceType, err)
	}
	return row.toCounter(), true, nil
}

var _ sequence.Store = (*SequenceRepo)(nil)
