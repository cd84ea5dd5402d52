package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alem-hub/points-ledger/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingJob struct {
	name  string
	runs  atomic.Int64
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

type panickingJob struct{}

func (panickingJob) Name() string              { return "panics" }
func (panickingJob) Description() string       { return "" }
func (panickingJob) Run(context.Context) error { panic("boom") }

func newTestScheduler(timeout time.Duration) *Scheduler {
	return New(Config{Logger: logger.Nop(), JobTimeout: timeout})
}

// runInBackground starts s and returns a stop func that cancels and waits.
func runInBackground(t *testing.T, s *Scheduler) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, s.IsRunning, time.Second, time.Millisecond)

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

// results collects OnJobComplete callbacks.
type results struct {
	mu  sync.Mutex
	all []JobResult
}

func (r *results) add(res JobResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, res)
}

func (r *results) first() (JobResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.all) == 0 {
		return JobResult{}, false
	}
	return r.all[0], true
}

func TestScheduler_Register(t *testing.T) {
	s := newTestScheduler(time.Second)

	assert.ErrorIs(t, s.Register(nil, Every(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, nil), ErrNilSchedule)

	require.NoError(t, s.Register(&countingJob{name: "b"}, Every(time.Hour)))
	require.NoError(t, s.Register(&countingJob{name: "a"}, Every(time.Minute)))
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, Every(time.Minute)), ErrJobAlreadyExists)

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "@every 1m0s", jobs[0].Schedule)
	assert.Equal(t, "test job", jobs[0].Description)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := newTestScheduler(time.Second)
	job := &countingJob{name: "tick"}
	require.NoError(t, s.Register(job, Every(10*time.Millisecond)))

	var got results
	s.OnJobComplete(got.add)

	stop := runInBackground(t, s)
	assert.ErrorIs(t, s.Run(context.Background()), ErrSchedulerAlreadyRunning)
	assert.ErrorIs(t, s.Register(&countingJob{name: "late"}, Every(time.Hour)), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	stop()
	assert.False(t, s.IsRunning())

	res, ok := got.first()
	require.True(t, ok)
	assert.Equal(t, "tick", res.JobName)
	assert.True(t, res.Success)

	info := s.ListJobs()[0]
	assert.GreaterOrEqual(t, info.RunCount, int64(2))
	assert.Zero(t, info.FailCount)
	assert.False(t, info.LastRun.IsZero())
}

func TestScheduler_DoesNotOverlapRuns(t *testing.T) {
	s := newTestScheduler(time.Minute)
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, Every(time.Millisecond)))

	stop := runInBackground(t, s)
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, 2*time.Second, time.Millisecond)

	// Many slots pass while the first run is still blocked.
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, job.runs.Load())
	assert.True(t, s.ListJobs()[0].Running)

	close(job.block)
	stop()
}

func TestScheduler_FailuresAreReported(t *testing.T) {
	boom := errors.New("boom")
	s := newTestScheduler(time.Second)
	require.NoError(t, s.Register(&countingJob{name: "bad", err: boom}, Every(5*time.Millisecond)))

	var got results
	s.OnJobComplete(got.add)

	stop := runInBackground(t, s)
	require.Eventually(t, func() bool { _, ok := got.first(); return ok }, 2*time.Second, time.Millisecond)
	stop()

	res, _ := got.first()
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, boom)
	assert.GreaterOrEqual(t, s.ListJobs()[0].FailCount, int64(1))
}

func TestScheduler_RecoversPanic(t *testing.T) {
	s := newTestScheduler(time.Second)
	require.NoError(t, s.Register(panickingJob{}, Every(5*time.Millisecond)))

	var got results
	s.OnJobComplete(got.add)

	stop := runInBackground(t, s)
	require.Eventually(t, func() bool { _, ok := got.first(); return ok }, 2*time.Second, time.Millisecond)
	stop()

	res, _ := got.first()
	assert.ErrorIs(t, res.Error, ErrJobPanicked)
}

func TestScheduler_JobTimeout(t *testing.T) {
	s := newTestScheduler(20 * time.Millisecond)
	require.NoError(t, s.Register(&countingJob{name: "stuck", block: make(chan struct{})}, Every(5*time.Millisecond)))

	var got results
	s.OnJobComplete(got.add)

	stop := runInBackground(t, s)
	require.Eventually(t, func() bool { _, ok := got.first(); return ok }, 2*time.Second, time.Millisecond)
	stop()

	res, _ := got.first()
	assert.ErrorIs(t, res.Error, context.DeadlineExceeded)
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := newTestScheduler(0)
	job := &countingJob{name: "blocked", block: make(chan struct{})}
	require.NoError(t, s.Register(job, Every(time.Millisecond)))

	stop := runInBackground(t, s)
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, 2*time.Second, time.Millisecond)

	// Run returns only once the blocked job has seen the cancellation.
	stop()
	assert.False(t, s.ListJobs()[0].Running)
}
