// Package scheduler runs the engine's periodic batch passes (penalty charging
// and achievement evaluation) on interval or cron schedules.
//
// Each job has its own loop, so a job never overlaps with itself inside one
// process: a run that overshoots its slot simply delays the next one. Across
// processes the jobs rely on the Redis job lock and on storage uniqueness.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/points-ledger/pkg/logger"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobPanicked             = errors.New("job panicked")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
)

// Job is one periodic pass. Run's context ends when the scheduler stops or
// the job timeout elapses.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Schedule yields the run times of a job.
type Schedule interface {
	// Next returns the first run time strictly after t.
	Next(t time.Time) time.Time
	String() string
}

// JobResult describes one finished run.
type JobResult struct {
	JobName   string
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Error     error
}

// JobInfo is the externally visible state of a registered job.
type JobInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Schedule    string    `json:"schedule"`
	Running     bool      `json:"running"`
	LastRun     time.Time `json:"last_run"`
	NextRun     time.Time `json:"next_run"`
	RunCount    int64     `json:"run_count"`
	FailCount   int64     `json:"fail_count"`
}

// Config configures New.
type Config struct {
	Logger *logger.Logger

	// Timezone is where cron fields are evaluated (UTC).
	Timezone *time.Location

	// JobTimeout bounds one run; zero leaves runs unbounded.
	JobTimeout time.Duration
}

// DefaultConfig evaluates schedules in UTC with a five minute job timeout.
func DefaultConfig() Config {
	return Config{
		Logger:     logger.Default(),
		Timezone:   time.UTC,
		JobTimeout: 5 * time.Minute,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler owns the registered jobs. Register them all before Run.
type Scheduler struct {
	log     *logger.Logger
	tz      *time.Location
	timeout time.Duration

	mu         sync.RWMutex
	jobs       []*entry
	running    bool
	onComplete func(JobResult)
}

// entry fields below job and schedule are guarded by Scheduler.mu.
type entry struct {
	job      Job
	schedule Schedule

	running bool
	lastRun time.Time
	nextRun time.Time
	runs    int64
	fails   int64
}

// New creates an idle Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	return &Scheduler{
		log:     cfg.Logger.With(logger.Component("scheduler")),
		tz:      cfg.Timezone,
		timeout: cfg.JobTimeout,
	}
}

// Register adds job. Names must be unique.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	if slices.ContainsFunc(s.jobs, func(e *entry) bool { return e.job.Name() == job.Name() }) {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, job.Name())
	}
	s.jobs = append(s.jobs, &entry{job: job, schedule: schedule})
	s.log.Info("job registered", logger.Job(job.Name()), logger.String("schedule", schedule.String()))
	return nil
}

// OnJobComplete sets a callback for every finished run. It runs on the job's
// goroutine.
func (s *Scheduler) OnJobComplete(fn func(JobResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// Run drives every job until ctx is done, then waits for runs in progress,
// whose contexts are cancelled too. It fits an errgroup next to the HTTP
// server.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	jobs := slices.Clone(s.jobs)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.log.Info("scheduler started", logger.Int("jobs", len(jobs)))
	started := time.Now()

	var g errgroup.Group
	for _, e := range jobs {
		g.Go(func() error {
			s.loop(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("scheduler stopped", logger.Duration("uptime", time.Since(started)))
	return nil
}

// IsRunning reports whether Run is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ListJobs returns the registered jobs sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, JobInfo{
			Name:        e.job.Name(),
			Description: e.job.Description(),
			Schedule:    e.schedule.String(),
			Running:     e.running,
			LastRun:     e.lastRun,
			NextRun:     e.nextRun,
			RunCount:    e.runs,
			FailCount:   e.fails,
		})
	}
	slices.SortFunc(out, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTION
// ══════════════════════════════════════════════════════════════════════════════

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	for {
		next := e.schedule.Next(time.Now().In(s.tz))
		s.mu.Lock()
		e.nextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.execute(ctx, e)
	}
}

func (s *Scheduler) execute(ctx context.Context, e *entry) {
	name := e.job.Name()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	s.mu.Lock()
	e.running = true
	e.lastRun = start
	s.mu.Unlock()

	err := runSafely(ctx, e.job)
	res := JobResult{
		JobName:   name,
		StartedAt: start,
		Duration:  time.Since(start),
		Success:   err == nil,
		Error:     err,
	}

	s.mu.Lock()
	e.running = false
	e.runs++
	if err != nil {
		e.fails++
	}
	hook := s.onComplete
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed", logger.Job(name), logger.Duration("duration", res.Duration), logger.Err(err))
	} else {
		s.log.Info("job completed", logger.Job(name), logger.Duration("duration", res.Duration))
	}
	if hook != nil {
		hook(res)
	}
}

// runSafely turns a panicking job into an error so its loop survives.
func runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return job.Run(ctx)
}
