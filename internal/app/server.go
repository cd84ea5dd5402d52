package app

import (
	"fmt"

	"github.com/alem-hub/points-ledger/internal/infrastructure/scheduler"
	"github.com/alem-hub/points-ledger/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/alem-hub/points-ledger/internal/interface/http"
	"github.com/alem-hub/points-ledger/internal/interface/http/handlers"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// NewScheduler registers the penalty and achievement jobs on their
// configured schedules.
func (a *App) NewScheduler() (*scheduler.Scheduler, error) {
	sc := a.Config.Scheduler

	cfg := scheduler.DefaultConfig()
	cfg.Logger = a.Logger
	cfg.Timezone = a.Config.App.Location
	if sc.JobTimeout > 0 {
		cfg.JobTimeout = sc.JobTimeout
	}
	s := scheduler.New(cfg)

	entries := []struct {
		job  scheduler.Job
		spec string
	}{
		{jobs.NewChargePenaltiesJob(a.Commands.ProcessPenalties, a.features(), a.Logger), sc.PenaltySchedule},
		{jobs.NewAwardAchievementsJob(a.Commands.AchievementPass, a.features(), a.Logger), sc.AchievementSchedule},
	}
	for _, e := range entries {
		schedule, err := scheduler.ParseSchedule(e.spec)
		if err != nil {
			return nil, fmt.Errorf("schedule for %s: %w", e.job.Name(), err)
		}
		if err := s.Register(e.job, schedule); err != nil {
			return nil, err
		}
	}

	s.OnJobComplete(func(r scheduler.JobResult) {
		if r.Success {
			return
		}
		a.Logger.Warn("scheduled job failed",
			logger.Job(r.JobName),
			logger.Duration("duration", r.Duration),
			logger.Err(r.Error),
		)
	})
	return s, nil
}

// NewHealthChecker checks the store, Redis when enabled, and the scheduler
// when one is given.
func (a *App) NewHealthChecker(s *scheduler.Scheduler) *handlers.CompositeHealthChecker {
	h := handlers.NewCompositeHealthChecker(a.Config.App.Version)
	h.AddCheck("store", handlers.NewPingCheck(a.Store))
	if a.Cache != nil {
		h.AddCheck("redis", handlers.NewPingCheck(a.Cache))
	}
	if s != nil {
		h.AddCheck("scheduler", handlers.NewRunningCheck("scheduler", s))
	}
	return h
}

// NewHTTPServer builds the API server on top of the app's handlers.
func (a *App) NewHTTPServer(health handlers.HealthChecker) *httpapi.Server {
	deps := httpapi.Dependencies{
		RegisterStudent:   a.Commands.RegisterStudent,
		RecordCheckin:     a.Commands.RecordCheckin,
		AppendLedgerEntry: a.Commands.AppendLedgerEntry,
		UndoLedgerEntry:   a.Commands.UndoLedgerEntry,
		RecomputeBalances: a.Commands.RecomputeBalances,
		AssignSkillSprint: a.Commands.AssignSkillSprint,
		CompleteSprint:    a.Commands.CompleteSprint,
		DisableSprint:     a.Commands.DisableSprint,
		DefineBadge:       a.Commands.DefineBadge,
		AwardBadge:        a.Commands.AwardBadge,
		AdjustBadgePoints: a.Commands.AdjustBadgePoints,
		ProcessPenalties:  a.Commands.ProcessPenalties,
		AchievementPass:   a.Commands.AchievementPass,

		GetBalances:    a.Queries.GetBalances,
		GetSkillSprint: a.Queries.GetSkillSprint,
		ListLedger:     a.Queries.ListLedger,

		Metrics: a.Metrics,
		Health:  health,
		Clock:   a.Clock,
		Logger:  a.Logger.With(logger.Component("http")),
	}
	if a.Config.Features != nil {
		deps.Features = a.Config.Features
		deps.FlagAdmin = a.Config.Features
	}
	return httpapi.NewServer(httpapi.ConfigFrom(a.Config), deps)
}
