package command

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/application/query"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/points-ledger/pkg/timeutil"
)

const day = 24 * time.Hour

// Monday 09:00 UTC.
var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

type capturingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *capturingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type featureSet map[string]bool

func (f featureSet) IsEnabled(name string) bool { return f[name] }

type heldLocker struct{}

func (heldLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	return nil, false, nil
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *sqlite.Store
	clock *timeutil.FixedClock
	pub   *capturingPublisher
	deps  Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "points.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var seq atomic.Int64
	clock := timeutil.NewFixedClock(t0)
	pub := &capturingPublisher{}
	return &fixture{
		t:     t,
		ctx:   ctx,
		store: store,
		clock: clock,
		pub:   pub,
		deps: Deps{
			Store:     store,
			Publisher: pub,
			Clock:     clock,
			NewID:     func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) },
		},
	}
}

func (f *fixture) register(id string) {
	f.t.Helper()
	_, err := NewRegisterStudentHandler(f.deps).Handle(f.ctx, RegisterStudentCommand{StudentID: id, DisplayName: id})
	require.NoError(f.t, err)
}

func (f *fixture) grant(id string, points int) ledger.Balances {
	f.t.Helper()
	res, err := NewAppendLedgerEntryHandler(f.deps).Handle(f.ctx, AppendLedgerEntryCommand{
		StudentID: id,
		Points:    points,
		Category:  ledger.CategoryClassAward,
		CreatedBy: "teacher-1",
	})
	require.NoError(f.t, err)
	return res.Balances
}

func (f *fixture) entries(id string, c ledger.Category) []*ledger.Entry {
	f.t.Helper()
	list, err := f.store.Repositories().Ledger.List(f.ctx, ledger.Filter{StudentID: id, Category: c})
	require.NoError(f.t, err)
	return list
}

func (f *fixture) balances(id string) ledger.Balances {
	f.t.Helper()
	st, err := f.store.Repositories().Students.GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return st.Balances
}

func sum(entries []*ledger.Entry) int {
	total := 0
	for _, e := range entries {
		total += e.Points
	}
	return total
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENTS & CHECK-INS
// ══════════════════════════════════════════════════════════════════════════════

func TestRegisterStudent_Idempotent(t *testing.T) {
	f := newFixture(t)
	h := NewRegisterStudentHandler(f.deps)

	first, err := h.Handle(f.ctx, RegisterStudentCommand{StudentID: "s-1", DisplayName: "Aru"})
	require.NoError(t, err)
	assert.Equal(t, shared.OutcomeApplied, first.Outcome)

	second, err := h.Handle(f.ctx, RegisterStudentCommand{StudentID: "s-1", DisplayName: "Other"})
	require.NoError(t, err)
	assert.Equal(t, shared.OutcomeAlreadyProcessed, second.Outcome)
	assert.Equal(t, "Aru", second.Student.DisplayName)
}

func TestRecordCheckin_OncePerDay(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	h := NewRecordCheckinHandler(f.deps, nil)

	res, err := h.Handle(f.ctx, RecordCheckinCommand{StudentID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, shared.OutcomeApplied, res.Outcome)

	f.clock.Advance(3 * time.Hour)
	res, err = h.Handle(f.ctx, RecordCheckinCommand{StudentID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, shared.OutcomeAlreadyProcessed, res.Outcome)
	assert.Equal(t, 1, res.Checkins)

	f.clock.Advance(day)
	res, err = h.Handle(f.ctx, RecordCheckinCommand{StudentID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, shared.OutcomeApplied, res.Outcome)
	assert.Equal(t, 2, res.Checkins)
}

func TestRecordCheckin_UnknownStudent(t *testing.T) {
	f := newFixture(t)
	_, err := NewRecordCheckinHandler(f.deps, nil).Handle(f.ctx, RecordCheckinCommand{StudentID: "ghost"})
	assert.True(t, shared.IsNotFound(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

func TestAppend_BalancesMatchEntries(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")

	f.grant("s-1", 500)
	f.grant("s-1", 700)
	_, err := NewAppendLedgerEntryHandler(f.deps).Handle(f.ctx, AppendLedgerEntryCommand{
		StudentID: "s-1",
		Points:    -200,
		Category:  ledger.CategoryManualAdjustment,
		CreatedBy: "teacher-1",
	})
	require.NoError(t, err)

	b := f.balances("s-1")
	assert.Equal(t, 1000, b.PointsTotal)
	assert.Equal(t, 1000, b.PointsBalance)
	assert.Equal(t, 1200, b.LifetimePoints)
	assert.Equal(t, 1, b.Level())
	assert.Equal(t, sum(f.entries("s-1", "")), b.PointsTotal)

	assert.Contains(t, f.pub.types(), shared.EventBalancesRecomputed)
}

func TestRecompute_HoldsCountInTotal(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.grant("s-1", 500)

	h := NewAppendLedgerEntryHandler(f.deps)
	for _, e := range []struct {
		points   int
		category ledger.Category
	}{
		{-100, ledger.CategoryRewardHold},
		{30, ledger.CategoryRewardHoldRelease},
	} {
		_, err := h.Handle(f.ctx, AppendLedgerEntryCommand{
			StudentID: "s-1", Points: e.points, Category: e.category, CreatedBy: "store",
		})
		require.NoError(t, err)
	}

	res, err := NewRecomputeBalancesHandler(f.deps).Handle(f.ctx, RecomputeBalancesCommand{StudentID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, sum(f.entries("s-1", "")), res.Balances.PointsTotal)
	assert.Equal(t, 430, res.Balances.PointsTotal)
	assert.Equal(t, 430, res.Balances.PointsBalance)
	assert.Equal(t, 500, res.Balances.LifetimePoints)
}

func TestAppend_Validation(t *testing.T) {
	f := newFixture(t)
	h := NewAppendLedgerEntryHandler(f.deps)

	_, err := h.Handle(f.ctx, AppendLedgerEntryCommand{StudentID: "", Points: 5, Category: ledger.CategoryClassAward})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(f.ctx, AppendLedgerEntryCommand{StudentID: "ghost", Points: 5, Category: ledger.CategoryClassAward})
	assert.True(t, shared.IsNotFound(err))
	assert.Empty(t, f.pub.types())
}

func TestUndo_RecomputesButKeepsLifetime(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.grant("s-1", 300)

	res, err := NewAppendLedgerEntryHandler(f.deps).Handle(f.ctx, AppendLedgerEntryCommand{
		StudentID: "s-1", Points: 200, Category: ledger.CategoryClassAward, CreatedBy: "teacher-1",
	})
	require.NoError(t, err)

	undo, err := NewUndoLedgerEntryHandler(f.deps).Handle(f.ctx, UndoLedgerEntryCommand{EntryID: res.EntryID})
	require.NoError(t, err)
	assert.Equal(t, 200, undo.Points)
	assert.Equal(t, 300, undo.Balances.PointsTotal)
	assert.Equal(t, 500, undo.Balances.LifetimePoints)

	_, err = NewUndoLedgerEntryHandler(f.deps).Handle(f.ctx, UndoLedgerEntryCommand{EntryID: res.EntryID})
	assert.True(t, shared.IsNotFound(err))
}

func TestRecompute_IsStable(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	want := f.grant("s-1", 1500)

	h := NewRecomputeBalancesHandler(f.deps)
	for range 3 {
		res, err := h.Handle(f.ctx, RecomputeBalancesCommand{StudentID: "s-1"})
		require.NoError(t, err)
		assert.Equal(t, want, res.Balances)
		assert.Equal(t, 1, res.Level)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SKILL SPRINTS
// ══════════════════════════════════════════════════════════════════════════════

func (f *fixture) assign(id string, reward, penalty int, due time.Time) string {
	f.t.Helper()
	a, err := NewAssignSkillSprintHandler(f.deps, AssignSkillSprintConfig{}).Handle(f.ctx, AssignSkillSprintCommand{
		StudentID:           id,
		Label:               "recursion",
		DueAt:               due,
		RewardPoints:        reward,
		PenaltyPointsPerDay: penalty,
		AssignedBy:          "teacher-1",
	})
	require.NoError(f.t, err)
	return a.ID
}

func TestAssign_CapsPenaltyAtAssignment(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.grant("s-1", 1000)

	a, err := NewAssignSkillSprintHandler(f.deps, AssignSkillSprintConfig{}).Handle(f.ctx, AssignSkillSprintCommand{
		StudentID:           "s-1",
		Label:               "graphs",
		DueAt:               t0.Add(4 * day),
		RewardPoints:        60,
		PenaltyPointsPerDay: 100,
		AssignedBy:          "teacher-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 80, a.PenaltyPointsPerDay)
	assert.Equal(t, 100, a.RequestedPenaltyPointsPerDay)

	// Later balance changes do not move the frozen cap.
	f.grant("s-1", 5000)
	got, err := f.store.Repositories().Sprints.GetByID(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, got.PenaltyPointsPerDay)
}

func TestAssign_RejectsPastDue(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	_, err := NewAssignSkillSprintHandler(f.deps, AssignSkillSprintConfig{}).Handle(f.ctx, AssignSkillSprintCommand{
		StudentID: "s-1", Label: "x", DueAt: t0.Add(-time.Hour), RewardPoints: 10,
	})
	assert.True(t, shared.IsValidation(err))
}

func TestComplete_DecayedRewardOnce(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	id := f.assign("s-1", 60, 0, t0.Add(4*day))

	f.clock.Advance(day + time.Hour)
	h := NewCompleteSkillSprintHandler(f.deps)

	res, err := h.Handle(f.ctx, CompleteSkillSprintCommand{AssignmentID: id, CompletedBy: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, shared.OutcomeApplied, res.Outcome)
	assert.Equal(t, 45, res.RewardPointsAwarded)
	require.NotNil(t, res.Balances)
	assert.Equal(t, 45, res.Balances.PointsTotal)

	again, err := h.Handle(f.ctx, CompleteSkillSprintCommand{AssignmentID: id, CompletedBy: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, shared.OutcomeAlreadyProcessed, again.Outcome)
	assert.Equal(t, 45, again.RewardPointsAwarded)
	assert.True(t, shared.IsAlreadyProcessed(again.Err()))

	assert.Len(t, f.entries("s-1", ledger.CategorySkillSprintComplete), 1)
}

func TestComplete_AfterGraceAwardsNothing(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	due := t0.Add(2 * day)
	id := f.assign("s-1", 60, 0, due)

	f.clock.Set(due.Add(25 * time.Hour))
	res, err := NewCompleteSkillSprintHandler(f.deps).Handle(f.ctx, CompleteSkillSprintCommand{AssignmentID: id, CompletedBy: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, shared.OutcomeApplied, res.Outcome)
	assert.Equal(t, 0, res.RewardPointsAwarded)
	assert.Empty(t, f.entries("s-1", ledger.CategorySkillSprintComplete))

	got, err := f.store.Repositories().Sprints.GetByID(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(f.clock.Now()))
}

func TestComplete_Disabled(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	id := f.assign("s-1", 60, 0, t0.Add(4*day))

	dis, err := NewDisableSkillSprintHandler(f.deps).Handle(f.ctx, DisableSkillSprintCommand{AssignmentID: id})
	require.NoError(t, err)
	assert.Equal(t, shared.OutcomeApplied, dis.Outcome)

	_, err = NewCompleteSkillSprintHandler(f.deps).Handle(f.ctx, CompleteSkillSprintCommand{AssignmentID: id})
	assert.True(t, shared.IsInvalidState(err))
	assert.ErrorIs(t, err, shared.ErrAssignmentDisabled)
}

func TestProcessPenalties_OncePerDay(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.grant("s-1", 1000)
	id := f.assign("s-1", 60, 10, t0.Add(5*day))

	h := NewProcessPenaltiesHandler(f.deps)

	// Nothing is due before the first full day.
	res, err := h.Handle(f.ctx, ProcessPenaltiesCommand{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.PenaltiesApplied)

	f.clock.Advance(day + time.Hour)
	for range 3 {
		_, err := h.Handle(f.ctx, ProcessPenaltiesCommand{})
		require.NoError(t, err)
	}
	penalties := f.entries("s-1", ledger.CategorySkillSprintPenalty)
	require.Len(t, penalties, 1)
	assert.Equal(t, -10, penalties[0].Points)
	assert.Equal(t, id+":1", penalties[0].SourceID)

	// A missed pass catches up day by day.
	f.clock.Advance(2 * day)
	res, err = h.Handle(f.ctx, ProcessPenaltiesCommand{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.PenaltiesApplied)

	penalties = f.entries("s-1", ledger.CategorySkillSprintPenalty)
	assert.Len(t, penalties, 3)
	assert.Equal(t, 970, f.balances("s-1").PointsBalance)
	assert.Equal(t, 1000, f.balances("s-1").LifetimePoints)

	got, err := query.NewGetSkillSprintHandler(f.store, f.clock).Handle(f.ctx, query.GetSkillSprintQuery{AssignmentID: id})
	require.NoError(t, err)
	assert.Equal(t, 3, got.ChargedDays)
	require.Len(t, got.Charges, 3)
	for i, c := range got.Charges {
		assert.Equal(t, i+1, c.DayIndex)
		assert.NotEmpty(t, c.LedgerEntryID)
	}
}

func TestProcessPenalties_ConcurrentRuns(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.grant("s-1", 1000)
	f.assign("s-1", 60, 10, t0.Add(5*day))
	f.clock.Advance(2*day + time.Hour)

	h := NewProcessPenaltiesHandler(f.deps)
	var (
		wg      sync.WaitGroup
		applied atomic.Int64
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.Handle(f.ctx, ProcessPenaltiesCommand{})
			if assert.NoError(t, err) {
				assert.Zero(t, res.Errors)
				applied.Add(int64(res.PenaltiesApplied))
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, applied.Load())
	penalties := f.entries("s-1", ledger.CategorySkillSprintPenalty)
	require.Len(t, penalties, 2)
	assert.NotEqual(t, penalties[0].SourceID, penalties[1].SourceID)
	assert.Equal(t, 980, f.balances("s-1").PointsBalance)
}

func TestProcessPenalties_StopAtCompletion(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.grant("s-1", 1000)
	id := f.assign("s-1", 60, 10, t0.Add(5*day))

	f.clock.Advance(day + time.Hour)
	_, err := NewCompleteSkillSprintHandler(f.deps).Handle(f.ctx, CompleteSkillSprintCommand{AssignmentID: id})
	require.NoError(t, err)

	f.clock.Advance(3 * day)
	res, err := NewProcessPenaltiesHandler(f.deps).Handle(f.ctx, ProcessPenaltiesCommand{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.PenaltiesApplied)
	assert.Empty(t, f.entries("s-1", ledger.CategorySkillSprintPenalty))
}

func TestProcessPenalties_SkippedWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	f.deps.Locker = heldLocker{}

	res, err := NewProcessPenaltiesHandler(f.deps).Handle(f.ctx, ProcessPenaltiesCommand{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGES
// ══════════════════════════════════════════════════════════════════════════════

func (f *fixture) defineBadge(name string, points int, criteria map[string]any) string {
	f.t.Helper()
	b, err := NewDefineBadgeHandler(f.deps).Create(f.ctx, DefineBadgeCommand{
		Name:            name,
		CriteriaType:    "lifetime_points",
		CriteriaPayload: criteria,
		PointsAward:     points,
		Enabled:         true,
	})
	require.NoError(f.t, err)
	return b.ID
}

func (f *fixture) defineTypedBadge(name, criteriaType string, points, threshold int) string {
	f.t.Helper()
	b, err := NewDefineBadgeHandler(f.deps).Create(f.ctx, DefineBadgeCommand{
		Name:            name,
		CriteriaType:    criteriaType,
		CriteriaPayload: map[string]any{"threshold": threshold},
		PointsAward:     points,
		Enabled:         true,
	})
	require.NoError(f.t, err)
	return b.ID
}

func (f *fixture) checkinOnDays(id string, days int) {
	f.t.Helper()
	h := NewRecordCheckinHandler(f.deps, nil)
	for i := range days {
		f.clock.Set(t0.Add(time.Duration(i) * day))
		res, err := h.Handle(f.ctx, RecordCheckinCommand{StudentID: id})
		require.NoError(f.t, err)
		require.Equal(f.t, shared.OutcomeApplied, res.Outcome)
	}
}

func TestAchievementPass_AwardsOnce(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.register("s-2")
	f.grant("s-1", 1200)
	f.grant("s-2", 100)
	badgeID := f.defineBadge("Thousand", 50, map[string]any{"min_points": 1000})

	h := NewRunAchievementPassHandler(f.deps)
	res, err := h.Handle(f.ctx, RunAchievementPassCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Awarded)
	assert.Equal(t, 1, res.BadgesEvaluated)

	res, err = h.Handle(f.ctx, RunAchievementPassCommand{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Awarded)

	awards := f.entries("s-1", ledger.CategoryBadgeAward)
	require.Len(t, awards, 1)
	assert.Equal(t, badgeID, awards[0].SourceID)
	assert.Equal(t, 1250, f.balances("s-1").PointsTotal)
	assert.Empty(t, f.entries("s-2", ledger.CategoryBadgeAward))
}

func TestAchievementPass_Checkins(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.register("s-2")
	f.checkinOnDays("s-1", 3)
	f.checkinOnDays("s-2", 2)
	badgeID := f.defineTypedBadge("Regular", "checkins", 20, 3)

	h := NewRunAchievementPassHandler(f.deps)
	res, err := h.Handle(f.ctx, RunAchievementPassCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Awarded)

	awards := f.entries("s-1", ledger.CategoryBadgeAward)
	require.Len(t, awards, 1)
	assert.Equal(t, badgeID, awards[0].SourceID)
	assert.Equal(t, 20, f.balances("s-1").PointsTotal)
	assert.Empty(t, f.entries("s-2", ledger.CategoryBadgeAward))

	// The third check-in reaches the threshold exactly.
	f.clock.Set(t0.Add(5 * day))
	_, err = NewRecordCheckinHandler(f.deps, nil).Handle(f.ctx, RecordCheckinCommand{StudentID: "s-2"})
	require.NoError(t, err)

	res, err = h.Handle(f.ctx, RunAchievementPassCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Awarded)
	assert.Len(t, f.entries("s-2", ledger.CategoryBadgeAward), 1)
	assert.Len(t, f.entries("s-1", ledger.CategoryBadgeAward), 1)
}

func TestAchievementPass_Level(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.register("s-2")
	f.grant("s-1", 2500)
	f.grant("s-2", 1999)
	f.defineTypedBadge("Level two", "level", 100, 2)

	h := NewRunAchievementPassHandler(f.deps)
	res, err := h.Handle(f.ctx, RunAchievementPassCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Awarded)
	assert.Equal(t, 2600, f.balances("s-1").PointsTotal)
	assert.Empty(t, f.entries("s-2", ledger.CategoryBadgeAward))

	f.grant("s-2", 1)
	res, err = h.Handle(f.ctx, RunAchievementPassCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Awarded)
	assert.Equal(t, 2100, f.balances("s-2").PointsTotal)
}

func TestAchievementPass_RacesManualAward(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.grant("s-1", 1200)
	badgeID := f.defineBadge("Thousand", 50, map[string]any{"threshold": 1000})

	pass := NewRunAchievementPassHandler(f.deps)
	award := NewAwardBadgeHandler(f.deps)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				res, err := pass.Handle(f.ctx, RunAchievementPassCommand{})
				if assert.NoError(t, err) {
					assert.Zero(t, res.Errors)
				}
				return
			}
			_, err := award.Handle(f.ctx, AwardBadgeCommand{StudentID: "s-1", BadgeID: badgeID})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.entries("s-1", ledger.CategoryBadgeAward), 1)
	assert.Equal(t, 1250, f.balances("s-1").PointsTotal)
}

func TestAwardBadge_ManualThenPassIsNoop(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.grant("s-1", 1200)
	badgeID := f.defineBadge("Thousand", 50, map[string]any{"threshold": 1000})

	res, err := NewAwardBadgeHandler(f.deps).Handle(f.ctx, AwardBadgeCommand{StudentID: "s-1", BadgeID: badgeID})
	require.NoError(t, err)
	assert.Equal(t, shared.OutcomeApplied, res.Outcome)

	again, err := NewAwardBadgeHandler(f.deps).Handle(f.ctx, AwardBadgeCommand{StudentID: "s-1", BadgeID: badgeID})
	require.NoError(t, err)
	assert.True(t, shared.IsAlreadyProcessed(again.Err()))

	pass, err := NewRunAchievementPassHandler(f.deps).Handle(f.ctx, RunAchievementPassCommand{})
	require.NoError(t, err)
	assert.Equal(t, 0, pass.Awarded)
	assert.Len(t, f.entries("s-1", ledger.CategoryBadgeAward), 1)
}

func TestAdjustBadgePoints(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.register("s-2")
	f.grant("s-1", 1200)
	f.grant("s-2", 1500)
	badgeID := f.defineBadge("Thousand", 50, map[string]any{"min_points": 1000})

	_, err := NewRunAchievementPassHandler(f.deps).Handle(f.ctx, RunAchievementPassCommand{})
	require.NoError(t, err)

	_, err = NewDefineBadgeHandler(f.deps).Update(f.ctx, DefineBadgeCommand{
		BadgeID:         badgeID,
		Name:            "Thousand",
		CriteriaType:    "lifetime_points",
		CriteriaPayload: map[string]any{"min_points": 1000},
		PointsAward:     80,
		Enabled:         true,
	})
	require.NoError(t, err)

	h := NewAdjustBadgePointsHandler(f.deps)

	plan, err := h.Handle(f.ctx, AdjustBadgePointsCommand{BadgeID: badgeID})
	require.NoError(t, err)
	assert.True(t, plan.DryRun)
	assert.Equal(t, 2, plan.Adjusted)
	assert.Equal(t, 60, plan.TotalDelta)
	assert.Empty(t, f.entries("s-1", ledger.CategoryBadgeAdjustment))

	res, err := h.Handle(f.ctx, AdjustBadgePointsCommand{BadgeID: badgeID, Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Adjusted)
	assert.Equal(t, 60, res.TotalDelta)

	res, err = h.Handle(f.ctx, AdjustBadgePointsCommand{BadgeID: badgeID, Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Adjusted)

	adj := f.entries("s-1", ledger.CategoryBadgeAdjustment)
	require.Len(t, adj, 1)
	assert.Equal(t, 30, adj[0].Points)
	assert.Equal(t, 1280, f.balances("s-1").PointsTotal)
}

// brokenTxStore reads normally but fails every transaction.
type brokenTxStore struct {
	port.Store
}

func (brokenTxStore) WithinTx(context.Context, port.TxFunc) error {
	return shared.StorageError("store", "Begin", errors.New("disk I/O error"))
}

func TestAdjustBadgePoints_ReportsFailedRows(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.register("s-2")
	f.grant("s-1", 1200)
	f.grant("s-2", 1500)
	badgeID := f.defineBadge("Thousand", 50, map[string]any{"min_points": 1000})
	_, err := NewRunAchievementPassHandler(f.deps).Handle(f.ctx, RunAchievementPassCommand{})
	require.NoError(t, err)
	_, err = NewDefineBadgeHandler(f.deps).Update(f.ctx, DefineBadgeCommand{
		BadgeID:         badgeID,
		Name:            "Thousand",
		CriteriaType:    "lifetime_points",
		CriteriaPayload: map[string]any{"min_points": 1000},
		PointsAward:     80,
		Enabled:         true,
	})
	require.NoError(t, err)

	deps := f.deps
	deps.Store = brokenTxStore{Store: f.store}
	res, err := NewAdjustBadgePointsHandler(deps).Handle(f.ctx, AdjustBadgePointsCommand{BadgeID: badgeID, Confirm: true})
	require.Error(t, err)
	assert.True(t, shared.IsStorage(err))
	assert.ErrorContains(t, err, "2 of 2 adjustments failed")
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Errors)
	assert.Zero(t, res.Adjusted)
	assert.Empty(t, f.entries("s-1", ledger.CategoryBadgeAdjustment))
}

func TestAdjustBadgePoints_ConfirmNeedsFeature(t *testing.T) {
	f := newFixture(t)
	f.deps.Features = featureSet{port.FeatureBadgesRetroactiveAdjust: false}
	badgeID := f.defineBadge("Thousand", 50, map[string]any{"min_points": 1000})

	_, err := NewAdjustBadgePointsHandler(f.deps).Handle(f.ctx, AdjustBadgePointsCommand{BadgeID: badgeID, Confirm: true})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	plan, err := NewAdjustBadgePointsHandler(f.deps).Handle(f.ctx, AdjustBadgePointsCommand{BadgeID: badgeID})
	require.NoError(t, err)
	assert.True(t, plan.DryRun)
}

func TestAchievementPass_SkipsInvalidCriteria(t *testing.T) {
	f := newFixture(t)
	f.register("s-1")
	f.grant("s-1", 1200)

	_, err := f.store.DB().ExecContext(f.ctx, `
		INSERT INTO badges (id, name, description, criteria_type, criteria_threshold,
			points_award, enabled, prestige, created_at, updated_at)
		VALUES ('b-bad', 'Broken', '', 'lifetime_points', 0, 10, 1, 0, ?, ?)`,
		timeutil.Millis(t0), timeutil.Millis(t0))
	require.NoError(t, err)

	res, err := NewRunAchievementPassHandler(f.deps).Handle(f.ctx, RunAchievementPassCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.BadgesSkipped)
	assert.Equal(t, 0, res.Awarded)
}
