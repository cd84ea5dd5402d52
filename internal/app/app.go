// Package app wires configuration, storage, messaging and the application
// handlers into one object. Both cmd/server and cmd/pointsctl build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alem-hub/points-ledger/config"
	"github.com/alem-hub/points-ledger/internal/application/command"
	"github.com/alem-hub/points-ledger/internal/application/eventhandler"
	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/application/query"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/infrastructure/messaging"
	"github.com/alem-hub/points-ledger/internal/infrastructure/metrics"
	"github.com/alem-hub/points-ledger/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/points-ledger/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/points-ledger/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/points-ledger/pkg/logger"
	"github.com/alem-hub/points-ledger/pkg/timeutil"
)

// EventBus is what the app needs from either bus implementation.
type EventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Close() error
}

// Commands groups the write-side handlers.
type Commands struct {
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
}

// Queries groups the read-side handlers.
type Queries struct {
	GetBalances    *query.GetBalancesHandler
	GetSkillSprint *query.GetSkillSprintHandler
	ListLedger     *query.ListLedgerHandler
}

// App holds every long-lived component of one process.
type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Clock   timeutil.Clock
	Store   port.Store
	Cache   *redis.Cache // nil when Redis is disabled
	Bus     EventBus
	Metrics *metrics.Metrics

	Commands Commands
	Queries  Queries

	closers []func() error
}

// Options tweak New for tests and one-shot CLI runs.
type Options struct {
	// Clock defaults to the system clock.
	Clock timeutil.Clock

	// SyncEvents dispatches events on the publisher's goroutine, so a CLI
	// command sees its side effects before it exits.
	SyncEvents bool
}

// New opens the store, optional Redis, the event bus and builds all handlers.
// On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (_ *App, err error) {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.SystemClock{}
	}
	a := &App{Config: cfg, Logger: log, Clock: opts.Clock}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// ─── Storage ───────────────────────────────────────────────────────────
	a.Store, err = OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	// ─── Metrics ───────────────────────────────────────────────────────────
	var observer messaging.Observer
	if cfg.Observability.MetricsEnabled {
		a.Metrics = metrics.New()
		observer = a.Metrics
	}

	// ─── Redis (optional) ──────────────────────────────────────────────────
	localBus := messaging.InMemoryEventBusConfig{
		AsyncMode:      !opts.SyncEvents,
		WorkerPoolSize: 10,
		Logger:         log,
		Observer:       observer,
	}
	var balanceCache port.BalanceCache
	var locker port.Locker

	if cfg.Redis.Enabled {
		a.Cache, err = redis.NewCache(ctx, redisConfig(cfg.Redis))
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, a.Cache.Close)
		balanceCache = redis.NewBalanceCache(a.Cache, cfg.Redis.BalanceTTL, log)
		locker = redis.NewLocker(a.Cache)

		a.Bus, err = messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisClient(a.Cache.Client()),
			ChannelName:    cfg.Redis.EventsChannel,
			LocalBusConfig: localBus,
			Logger:         log,
		})
		if err != nil {
			return nil, fmt.Errorf("start redis event bus: %w", err)
		}
		log.Info("redis enabled", logger.String("addr", cfg.Redis.Addr))
	} else {
		a.Bus = messaging.NewInMemoryEventBus(localBus)
	}
	// The bus closes before the cache and the store it may still touch.
	a.closers = append(a.closers, a.Bus.Close)

	// ─── Event handlers ────────────────────────────────────────────────────
	if err := a.registerEventHandlers(balanceCache); err != nil {
		return nil, err
	}

	// ─── Application handlers ──────────────────────────────────────────────
	deps := command.Deps{
		Store:     a.Store,
		Publisher: a.Bus,
		Clock:     a.Clock,
		Logger:    log,
		Features:  a.features(),
		Locker:    locker,
	}
	a.Commands = Commands{
		RegisterStudent:   command.NewRegisterStudentHandler(deps),
		RecordCheckin:     command.NewRecordCheckinHandler(deps, cfg.App.Location),
		AppendLedgerEntry: command.NewAppendLedgerEntryHandler(deps),
		UndoLedgerEntry:   command.NewUndoLedgerEntryHandler(deps),
		RecomputeBalances: command.NewRecomputeBalancesHandler(deps),
		AssignSkillSprint: command.NewAssignSkillSprintHandler(deps, command.AssignSkillSprintConfig{
			PenaltyCapPercent: cfg.Engine.PenaltyCapPercent,
		}),
		CompleteSprint:    command.NewCompleteSkillSprintHandler(deps),
		DisableSprint:     command.NewDisableSkillSprintHandler(deps),
		DefineBadge:       command.NewDefineBadgeHandler(deps),
		AwardBadge:        command.NewAwardBadgeHandler(deps),
		AdjustBadgePoints: command.NewAdjustBadgePointsHandler(deps),
		ProcessPenalties:  command.NewProcessPenaltiesHandler(deps),
		AchievementPass:   command.NewRunAchievementPassHandler(deps),
	}
	a.Queries = Queries{
		GetBalances:    query.NewGetBalancesHandler(a.Store, balanceCache, log),
		GetSkillSprint: query.NewGetSkillSprintHandler(a.Store, a.Clock),
		ListLedger:     query.NewListLedgerHandler(a.Store),
	}
	return a, nil
}

func (a *App) registerEventHandlers(cache port.BalanceCache) error {
	type registrar interface {
		Register(eventhandler.Subscriber) error
	}
	regs := []registrar{
		eventhandler.NewAuditLogger(a.Logger),
		eventhandler.NewOnBalancesRecomputedHandler(cache, a.Logger),
	}
	if a.Metrics != nil {
		regs = append(regs, eventhandler.NewMetricsRecorder(a.Metrics))
	}
	for _, r := range regs {
		if err := r.Register(a.Bus); err != nil {
			return fmt.Errorf("register event handler: %w", err)
		}
	}
	return nil
}

// features returns the flag set as a gate, or nil so that callers fall back
// to their own defaults.
func (a *App) features() port.FeatureGate {
	if a.Config.Features == nil {
		return nil
	}
	return a.Config.Features
}

// Actor returns the configured default actor.
func (a *App) Actor() shared.Actor {
	return shared.SystemActor(a.Config.Engine.DefaultActor)
}

// Close releases everything in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// OpenStore opens the configured store and applies pending migrations.
func OpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (port.Store, error) {
	db := cfg.Database
	switch db.Driver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, PostgresConfig(db), log)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, nil

	case config.DriverSQLite:
		if dir := filepath.Dir(db.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		store, err := sqlite.Open(ctx, sqlite.Config{Path: db.Path, BusyTimeout: db.BusyTimeout}, log)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", db.Driver)
	}
}

// PostgresConfig maps the database section onto the pool settings.
func PostgresConfig(db config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = db.URL
	if db.MaxConns > 0 {
		pc.MaxConns = int32(db.MaxConns)
	}
	if db.MinConns > 0 {
		pc.MinConns = int32(db.MinConns)
	}
	if db.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = db.ConnMaxLifetime
	}
	if db.ConnMaxIdleTime > 0 {
		pc.MaxConnIdleTime = db.ConnMaxIdleTime
	}
	if db.ConnectTimeout > 0 {
		pc.ConnectTimeout = db.ConnectTimeout
	}
	return pc
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.Addr = c.Addr
	rc.Password = c.Password
	rc.DB = c.DB
	if c.KeyPrefix != "" {
		rc.KeyPrefix = c.KeyPrefix
	}
	if c.PoolSize > 0 {
		rc.PoolSize = c.PoolSize
	}
	if c.MinIdleConns > 0 {
		rc.MinIdleConns = c.MinIdleConns
	}
	if c.DialTimeout > 0 {
		rc.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		rc.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		rc.WriteTimeout = c.WriteTimeout
	}
	if c.BalanceTTL > 0 {
		rc.BalanceTTL = c.BalanceTTL
	}
	return rc
}

// NewLogger builds the process logger from the observability settings.
// out defaults to stdout.
func NewLogger(cfg *config.Config, out io.Writer) *logger.Logger {
	o := cfg.Observability
	opts := logger.DefaultOptions()
	opts.Level = o.LogLevel
	opts.Format = o.LogFormat
	opts.File = o.LogFile
	if o.LogMaxSizeMB > 0 {
		opts.MaxSizeMB = o.LogMaxSizeMB
	}
	if o.LogMaxBackups > 0 {
		opts.MaxBackups = o.LogMaxBackups
	}
	if o.LogMaxAgeDays > 0 {
		opts.MaxAgeDays = o.LogMaxAgeDays
	}
	opts.Compress = o.LogCompress
	opts.Output = out
	opts.Development = cfg.IsDevelopment() && cfg.App.Debug
	return logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
}
