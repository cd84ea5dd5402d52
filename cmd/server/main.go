// Package main - точка входа сервера Points Ledger.
//
// Сервер поднимает:
// - JSON API поверх командных и запросных обработчиков
// - планировщик штрафов и автоматических значков
// - /health и /metrics
//
// Все компоненты собираются в internal/app и живут под одной errgroup:
// первая ошибка или сигнал останавливает остальное.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/points-ledger/config"
	"github.com/alem-hub/points-ledger/internal/app"
	"github.com/alem-hub/points-ledger/internal/infrastructure/scheduler"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─── 1. ЗАГРУЗКА КОНФИГУРАЦИИ ──────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ─── 2. ЛОГГЕР ─────────────────────────────────────────────────────────
	log := app.NewLogger(cfg, nil)
	defer func() { _ = log.Sync() }()

	log.Info("starting points ledger",
		logger.String("version", cfg.App.Version),
		logger.String("config", cfg.Source),
		logger.String("db_driver", cfg.Database.Driver),
		logger.Bool("redis", cfg.Redis.Enabled),
		logger.Bool("scheduler", cfg.Scheduler.Enabled),
	)

	// ─── 3. ХРАНИЛИЩЕ, REDIS, ШИНА СОБЫТИЙ, ОБРАБОТЧИКИ ───────────────────
	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("shutdown: close resources", logger.Err(err))
		}
	}()

	// ─── 4. ПЛАНИРОВЩИК ────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = a.NewScheduler()
		if err != nil {
			return err
		}
	}

	// ─── 5. HTTP СЕРВЕР ────────────────────────────────────────────────────
	srv := a.NewHTTPServer(a.NewHealthChecker(sched))

	// ─── 6. ЗАПУСК ─────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.App.ShutdownTimeout)
	})
	if sched != nil {
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}

	log.Info("points ledger is running", logger.String("addr", cfg.HTTP.Addr))

	// ─── 7. ОСТАНОВКА ──────────────────────────────────────────────────────
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("points ledger stopped")
	return nil
}
