package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/auditseq/internal/console/handler"
	"github.com/xela07ax/auditseq/internal/infra/auth"
	"go.uber.org/zap"
)

// HealthCheck — проверка зависимости (Ping БД, Redis). nil — зависимость жива.
type HealthCheck func(ctx context.Context) error

const healthTimeout = 2 * time.Second

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Интерфейс для проверки операторских токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики
	sequenceHandler *handler.SequenceHandler // /v1/sequences
	auditHandler    *handler.AuditHandler    // /v1/audit (Logs)

	checks map[string]HealthCheck
	stats  func() any
}

type Option func(*ConsoleServer)

// WithHealthCheck добавляет зависимость в /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *ConsoleServer) { s.checks[name] = check }
}

// WithStats отдает в /health снимок состояния (например, глубину очереди аудита).
func WithStats(stats func() any) Option {
	return func(s *ConsoleServer) { s.stats = stats }
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	seqH *handler.SequenceHandler,
	auditH *handler.AuditHandler,
	opts ...Option,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		authValidator:   validator,
		sequenceHandler: seqH,
		auditHandler:    auditH,
		checks:          make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", s.health)

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Route("/v1/sequences/{type}", func(r chi.Router) {
			r.With(auth.RequireScope(auth.ScopeSequenceRead)).Get("/", s.sequenceHandler.Get)
			r.With(auth.RequireScope(auth.ScopeSequenceAdmin)).Post("/reset", s.sequenceHandler.Reset)
			r.With(auth.RequireScope(auth.ScopeSequenceAdmin)).Post("/next", s.sequenceHandler.Allocate)
		})

		// Аудит и Логи
		r.With(auth.RequireScope(auth.ScopeAuditRead)).Get("/v1/audit", s.auditHandler.GetLogs)
	})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Stats  any               `json:"stats,omitempty"`
}

func (s *ConsoleServer) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	if s.stats != nil {
		resp.Stats = s.stats()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
