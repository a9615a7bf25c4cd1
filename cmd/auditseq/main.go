package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/auditseq/internal/audit"
	"github.com/xela07ax/auditseq/internal/console/handler"
	"github.com/xela07ax/auditseq/internal/console/server"
	"github.com/xela07ax/auditseq/internal/console/service"
	"github.com/xela07ax/auditseq/internal/infra"
	"github.com/xela07ax/auditseq/internal/infra/auth"
	"github.com/xela07ax/auditseq/internal/repository/postgres"
	"github.com/xela07ax/auditseq/internal/repository/redisrepo"
	"github.com/xela07ax/auditseq/internal/sequence"
)

const (
	initTimeout       = 10 * time.Second
	httpShutdownGrace = 5 * time.Second
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := infra.NewLogger(cfg.Logger)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("auditseq failed", zap.Error(err))
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	initCtx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	var healthOpts []server.Option

	// 1. Инфраструктура и ресурсы
	var db *sql.DB
	if cfg.UsesPostgres() {
		if cfg.Database.AutoMigrate {
			if err := postgres.MigrateUp(initCtx, cfg.Database.URL, logger); err != nil {
				return err
			}
		}

		var err error
		db, err = postgres.Open(initCtx, cfg.Database.URL, postgres.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		healthOpts = append(healthOpts, server.WithHealthCheck("postgres", db.PingContext))
	}

	var rdb *redis.Client
	if cfg.Storage.SequenceDriver == infra.DriverRedis {
		var err error
		rdb, err = infra.NewRedisClient(initCtx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		healthOpts = append(healthOpts, server.WithHealthCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	// Метрики
	reg := prometheus.NewRegistry()

	// 2. Хранилища
	seqStore, err := newSequenceStore(cfg, db, rdb)
	if err != nil {
		return err
	}
	auditSink, auditReader := newAuditStorage(cfg, db)

	// 3. Ядро: генератор номеров и клиент аудита
	loc, err := cfg.Sequence.Location()
	if err != nil {
		return err
	}
	generator := sequence.NewGenerator(seqStore, logger,
		sequence.WithPrefixes(cfg.Sequence.Prefixes),
		sequence.WithLocation(loc),
		sequence.WithMetrics(sequence.NewMetrics(reg)),
	)

	auditClient := audit.NewClient(auditSink, cfg.Audit.ClientConfig(), logger,
		audit.WithClientMetrics(audit.NewMetrics(reg)),
	)
	auditClient.RecordAudit(audit.SystemActor, "SERVICE_START",
		fmt.Sprintf("sequence_driver=%s audit_driver=%s", cfg.Storage.SequenceDriver, cfg.Storage.AuditDriver))

	// 4. HTTP: метрики и админка
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsSrv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.MetricsPort)),
		Handler:           metricsMux,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	var adminSrv *http.Server
	if len(cfg.Auth.PublicKey) == 0 {
		logger.Warn("admin API disabled: no operator public key configured")
	} else {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			return err
		}

		seqH := handler.NewSequenceHandler(service.NewSequenceService(generator, auditClient, logger), logger)
		auditH := handler.NewAuditHandler(service.NewAuditService(auditReader), logger)

		healthOpts = append(healthOpts, server.WithStats(func() any { return auditClient.Stats() }))
		console := server.NewConsoleServer(logger, auth.NewRSAValidator(pub), seqH, auditH, healthOpts...)

		adminSrv = &http.Server{
			Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.AdminPort)),
			Handler:      console,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Ошибка любого listener'а — повод остановиться так же, как по сигналу
	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{metricsSrv, adminSrv} {
		if srv == nil {
			continue
		}
		go func(srv *http.Server) {
			logger.Info("http server started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	// 5. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-stop:
		logger.Info("auditseq stopping...", zap.String("signal", sig.String()))
	case runErr = <-serveErr:
		logger.Error("http server failed, stopping", zap.Error(runErr))
	}

	// Сначала перестаем принимать запросы, потом сливаем очередь аудита:
	// последние операторские действия тоже должны попасть в журнал.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownGrace)
	defer shutdownCancel()
	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown failed", zap.Error(err))
		}
	}

	if err := auditClient.Shutdown(context.Background()); err != nil {
		logger.Error("audit client shutdown incomplete", zap.Error(err))
	}

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}
	logger.Info("auditseq exited properly")
	return runErr
}

func newSequenceStore(cfg *infra.Config, db *sql.DB, rdb *redis.Client) (sequence.Store, error) {
	switch cfg.Storage.SequenceDriver {
	case infra.DriverPostgres:
		gdb, err := postgres.OpenGorm(db)
		if err != nil {
			return nil, err
		}
		return postgres.NewSequenceRepo(gdb), nil
	case infra.DriverRedis:
		return redisrepo.NewSequenceRepo(rdb), nil
	default:
		return sequence.NewMemoryStore(), nil
	}
}

func newAuditStorage(cfg *infra.Config, db *sql.DB) (audit.Sink, audit.Reader) {
	if cfg.Storage.AuditDriver == infra.DriverPostgres {
		repo := postgres.NewAuditRepo(db)
		return repo, repo
	}
	sink := audit.NewMemorySink()
	return sink, sink
}
