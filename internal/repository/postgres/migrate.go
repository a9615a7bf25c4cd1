package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator накатывает схему (invoice_sequences, audit_logs) из встроенных SQL-файлов.
type Migrator struct {
	m      *migrate.Migrate
	logger *zap.Logger
}

func NewMigrator(db *sql.DB, logger *zap.Logger) (*Migrator, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("postgres: migrations source: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres: migrations driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("postgres: migrate instance: %w", err)
	}
	return &Migrator{m: m, logger: logger.With(zap.String("mod", "migrate"))}, nil
}

func (m *Migrator) Up() error {
	err := m.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("schema is up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("postgres: migration up failed: %w", err)
	}

	version, dirty, _ := m.m.Version()
	m.logger.Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func (m *Migrator) Down() error {
	err := m.m.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("postgres: migration down failed: %w", err)
	}
	m.logger.Info("all migrations rolled back")
	return nil
}

// Version возвращает 0, если миграции еще не применялись.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Force — ручной выход из dirty-состояния.
func (m *Migrator) Force(version int) error {
	m.logger.Warn("forcing migration version", zap.Int("version", version))
	return m.m.Force(version)
}

// Close закрывает source и драйвер вместе с переданным *sql.DB,
// поэтому мигратору нужен отдельный пул, а не общий с репозиториями.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

// MigrateUp открывает отдельный пул, накатывает схему и закрывает пул.
func MigrateUp(ctx context.Context, dsn string, logger *zap.Logger) error {
	db, err := Open(ctx, dsn, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		return err
	}
	m, err := NewMigrator(db, logger)
	if err != nil {
		_ = db.Close()
		return err
	}
	return errors.Join(m.Up(), m.Close())
}
