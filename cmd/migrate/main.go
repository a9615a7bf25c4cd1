package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/auditseq/internal/infra"
	"github.com/xela07ax/auditseq/internal/repository/postgres"
)

func main() {
	var (
		configDir string
		logLevel  string
	)
	flag.StringVar(&configDir, "config", "", "Directory with config.yaml (default: . and ./configs)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	logger := infra.NewLogger(infra.LoggerConfig{Level: logLevel, Format: "console"})
	defer func() { _ = logger.Sync() }()

	var paths []string
	if configDir != "" {
		paths = append(paths, configDir)
	}
	cfg, err := infra.LoadConfig(paths...)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if cfg.Database.URL == "" {
		logger.Fatal("database.url (DATABASE_URL) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// У мигратора свой пул: Close закрывает его вместе с драйвером
	db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{MaxOpenConns: 1})
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	m, err := postgres.NewMigrator(db, logger)
	if err != nil {
		_ = db.Close()
		logger.Fatal("failed to init migrator", zap.Error(err))
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("failed to close migrator", zap.Error(err))
		}
	}()

	if err := execute(m, command, args[1:]); err != nil {
		logger.Error("migration command failed", zap.String("command", command), zap.Error(err))
		os.Exit(1)
	}
}

func execute(m *postgres.Migrator, command string, args []string) error {
	switch command {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	case "force":
		if len(args) != 1 {
			return fmt.Errorf("usage: migrate force <version>")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return m.Force(version)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage:
  migrate [flags] <command> [arguments]

Commands:
  up               Apply all pending migrations
  down             Roll back all migrations
  version          Print current schema version
  force <version>  Set version without running migrations (recover from dirty state)

Flags:
`)
	flag.PrintDefaults()
}
