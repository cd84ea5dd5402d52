// Package http exposes the points engine over a JSON REST API.
// Routes live under /v1; /health and /metrics sit at the root.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alem-hub/points-ledger/config"
	"github.com/alem-hub/points-ledger/internal/application/command"
	"github.com/alem-hub/points-ledger/internal/application/query"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/infrastructure/metrics"
	"github.com/alem-hub/points-ledger/internal/interface/http/handlers"
	"github.com/alem-hub/points-ledger/pkg/logger"
	"github.com/alem-hub/points-ledger/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr to listen on (default: ":8080").
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds each handler through its context. Zero disables it.
	RequestTimeout time.Duration

	// MaxBodyBytes caps request bodies. Zero disables the cap.
	MaxBodyBytes int64

	// RateLimitRPS and RateLimitBurst configure the per-client token bucket.
	// RateLimitRPS <= 0 disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// DefaultActor is used when a request carries no X-Actor-ID.
	DefaultActor string

	// Version is reported by /health.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 20 * time.Second,
		MaxBodyBytes:   1 << 20,
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		DefaultActor:   "system",
	}
}

// ConfigFrom maps the application config onto the server config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Addr:           cfg.HTTP.Addr,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		DefaultActor:   cfg.Engine.DefaultActor,
		Version:        cfg.App.Version,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// RolloutGate decides per-client feature rollouts. config.FeatureFlags
// implements it.
type RolloutGate interface {
	IsEnabledFor(feature, subject string) bool
}

// FlagAdmin lists and retunes feature flags at runtime. config.FeatureFlags
// implements it.
type FlagAdmin interface {
	GetAllFeatures() []config.Feature
	SetRolloutPercent(name string, percent int) error
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Commands (write side)
	RegisterStudent   *command.RegisterStudentHandler
	RecordCheckin     *command.RecordCheckinHandler
	AppendLedgerEntry *command.AppendLedgerEntryHandler
	UndoLedgerEntry   *command.UndoLedgerEntryHandler
	RecomputeBalances *command.RecomputeBalancesHandler
	AssignSkillSprint *command.AssignSkillSprintHandler
	CompleteSprint    *command.CompleteSkillSprintHandler
	DisableSprint     *command.DisableSkillSprintHandler
	DefineBadge       *command.DefineBadgeHandler
	AwardBadge        *command.AwardBadgeHandler
	AdjustBadgePoints *command.AdjustBadgePointsHandler
	ProcessPenalties  *command.ProcessPenaltiesHandler
	AchievementPass   *command.RunAchievementPassHandler

	// Queries (read side)
	GetBalances    *query.GetBalancesHandler
	GetSkillSprint *query.GetSkillSprintHandler
	ListLedger     *query.ListLedgerHandler

	// Features gates rate limiting per client. Nil limits everyone.
	Features RolloutGate

	// FlagAdmin backs /v1/features. Nil answers 501 there.
	FlagAdmin FlagAdmin

	// Metrics is optional. When set, requests are observed and /metrics is served.
	Metrics *metrics.Metrics

	// Health defaults to a checker with no checks.
	Health handlers.HealthChecker

	// Clock values sprint responses. Defaults to the system clock.
	Clock timeutil.Clock

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	router     chi.Router
	httpServer *http.Server
	logger     *logger.Logger
	limiter    *clientLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(cfg Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Health == nil {
		deps.Health = handlers.NewCompositeHealthChecker(cfg.Version)
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: deps.Logger.With(logger.Component("http")),
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = newClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)
	if s.deps.Metrics != nil {
		r.Use(s.metricsMiddleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.rateLimitMiddleware)
		}
		if s.config.MaxBodyBytes > 0 {
			r.Use(s.bodyLimitMiddleware)
		}
		if s.config.RequestTimeout > 0 {
			r.Use(chimw.Timeout(s.config.RequestTimeout))
		}
		r.Use(s.actorMiddleware)

		// ─────────────────────────────────────────────────────────────────
		// Students & ledger
		// ─────────────────────────────────────────────────────────────────
		r.Post("/students", s.handleRegisterStudent)
		r.Route("/students/{studentID}", func(r chi.Router) {
			r.Post("/checkins", s.handleRecordCheckin)
			r.Post("/ledger", s.handleAppendLedgerEntry)
			r.Get("/ledger", s.handleListLedger)
			r.Get("/balances", s.handleGetBalances)
			r.Post("/balances/recompute", s.handleRecomputeBalances)
			r.Post("/sprints", s.handleAssignSprint)
		})
		r.Delete("/ledger/{entryID}", s.handleUndoLedgerEntry)

		// ─────────────────────────────────────────────────────────────────
		// Skill sprints
		// ─────────────────────────────────────────────────────────────────
		r.Route("/sprints/{assignmentID}", func(r chi.Router) {
			r.Get("/", s.handleGetSprint)
			r.Post("/complete", s.handleCompleteSprint)
			r.Post("/disable", s.handleDisableSprint)
		})

		// ─────────────────────────────────────────────────────────────────
		// Badges
		// ─────────────────────────────────────────────────────────────────
		r.Post("/badges", s.handleCreateBadge)
		r.Route("/badges/{badgeID}", func(r chi.Router) {
			r.Put("/", s.handleUpdateBadge)
			r.Post("/awards", s.handleAwardBadge)
			r.Post("/adjust", s.handleAdjustBadge)
		})

		// ─────────────────────────────────────────────────────────────────
		// Batch passes
		// ─────────────────────────────────────────────────────────────────
		r.Post("/jobs/penalties", s.handleRunPenalties)
		r.Post("/jobs/achievements", s.handleRunAchievements)

		// ─────────────────────────────────────────────────────────────────
		// Feature flags
		// ─────────────────────────────────────────────────────────────────
		r.Get("/features", s.handleListFeatures)
		r.Put("/features/{name}", s.handleSetFeature)
	})

	return r
}

// handleHealth reports store, cache and scheduler health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Run serves until ctx is cancelled, then shuts down gracefully within
// shutdownTimeout. It is meant to run under an errgroup.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", logger.String("address", s.config.Addr))
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		s.markStopped()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil && err == nil {
		err = serveErr
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.markStopped() {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) markStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.running
	s.running = false
	return was
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTOR
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const contextKeyActor contextKey = "actor"

// Actor headers. The engine trusts them; authentication happens upstream.
const (
	HeaderActorID    = "X-Actor-ID"
	HeaderActorRoles = "X-Actor-Roles"
)

// actorFrom returns the actor attached by actorMiddleware.
func actorFrom(ctx context.Context) shared.Actor {
	a, _ := ctx.Value(contextKeyActor).(shared.Actor)
	return a
}
