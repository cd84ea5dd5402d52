package sprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

const day = 24 * time.Hour

// Monday 00:00 UTC.
var monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func TestDecay_Staircase(t *testing.T) {
	friday := monday.Add(4 * day)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"day0", monday, 60},
		{"day1", monday.Add(1 * day), 45},
		{"day2", monday.Add(2 * day), 30},
		{"day3", monday.Add(3 * day), 15},
		{"day4 due", friday, 15},
		{"inside grace", friday.Add(23 * time.Hour), 15},
		{"day5 grace over", friday.Add(day), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decay(60, monday, friday, tt.now))
		})
	}
}

func TestDecay_FullValueAtAssignment(t *testing.T) {
	assert.Equal(t, 100, Decay(100, monday, monday.Add(5*day), monday))
}

func TestDecay_ZeroAfterGrace(t *testing.T) {
	due := monday.Add(3 * day)
	assert.Equal(t, 0, Decay(100, monday, due, due.Add(25*time.Hour)))
	assert.Equal(t, 0, Decay(7, time.Time{}, due, due.Add(25*time.Hour)))
}

func TestDecay_NonIncreasing(t *testing.T) {
	for _, prize := range []int{0, 1, 7, 60, 99, 100, 1001} {
		for _, span := range []time.Duration{time.Hour, day, 36 * time.Hour, 5 * day, 11*day + 3*time.Hour} {
			due := monday.Add(span)
			prev := Decay(prize, monday, due, monday.Add(-time.Hour))
			for now := monday.Add(-time.Hour); now.Before(due.Add(3 * day)); now = now.Add(90 * time.Minute) {
				v := Decay(prize, monday, due, now)
				require.LessOrEqualf(t, v, prev, "prize=%d span=%s now=%s", prize, span, now)
				require.GreaterOrEqual(t, v, 0)
				prev = v
			}
		}
	}
}

func TestDecay_MissingOrInvertedDates(t *testing.T) {
	// No due date never expires.
	assert.Equal(t, 50, Decay(50, monday, time.Time{}, monday.Add(400*day)))

	// Inverted range keeps full value until the grace window passes.
	due := monday.Add(-day)
	assert.Equal(t, 50, Decay(50, monday, due, monday.Add(-time.Minute)))
	assert.Equal(t, 0, Decay(50, monday, due, monday))

	// Negative prizes clamp to zero.
	assert.Equal(t, 0, Decay(-10, monday, monday.Add(day), monday))
}

func TestDecay_RoundsHalfAwayFromZero(t *testing.T) {
	// duration 4, daily drop 2.5
	due := monday.Add(4 * day)
	assert.Equal(t, 10, Decay(10, monday, due, monday))
	assert.Equal(t, 8, Decay(10, monday, due, monday.Add(day)))     // 7.5
	assert.Equal(t, 5, Decay(10, monday, due, monday.Add(2*day)))   // 5.0
	assert.Equal(t, 3, Decay(10, monday, due, monday.Add(3*day)))   // floor is round(2.5)=3
	assert.Equal(t, 4, DurationDays(monday, due))
	assert.Equal(t, 2, DurationDays(monday, monday.Add(25*time.Hour)))
}

func newAssignment(t *testing.T, balance, requested int) *Assignment {
	t.Helper()
	a, err := NewAssignment(NewAssignmentParams{
		ID:                  "a-1",
		StudentID:           "s-1",
		SourceLabel:         "Binary search drill",
		DueAt:               monday.Add(4 * day),
		RewardPoints:        60,
		PenaltyPointsPerDay: requested,
		AssignedBy:          "coach-1",
		StudentBalance:      balance,
		Now:                 monday,
	})
	require.NoError(t, err)
	return a
}

func TestNewAssignment_PenaltyCap(t *testing.T) {
	a := newAssignment(t, 1000, 100)
	assert.Equal(t, 80, a.PenaltyPointsPerDay)
	assert.Equal(t, 100, a.RequestedPenaltyPointsPerDay)

	assert.Equal(t, 5, newAssignment(t, 1000, 5).PenaltyPointsPerDay)
	assert.Equal(t, 0, newAssignment(t, -20, 5).PenaltyPointsPerDay)
	assert.Equal(t, 7, newAssignment(t, 99, 50).PenaltyPointsPerDay)
	assert.Equal(t, 0, PenaltyCap(0, 8))
}

func TestNewAssignment_Validation(t *testing.T) {
	base := NewAssignmentParams{
		ID: "a", StudentID: "s", SourceLabel: "x", DueAt: monday.Add(day), Now: monday,
	}

	p := base
	p.DueAt = monday
	_, err := NewAssignment(p)
	assert.ErrorIs(t, err, shared.ErrInvalidDueDate)

	p = base
	p.StudentID = ""
	_, err = NewAssignment(p)
	assert.True(t, shared.IsValidation(err))

	p = base
	p.SourceLabel = " "
	_, err = NewAssignment(p)
	assert.True(t, shared.IsValidation(err))

	p = base
	p.RewardPoints = -1
	_, err = NewAssignment(p)
	assert.True(t, shared.IsValidation(err))
}

func TestPenaltyPlan(t *testing.T) {
	a := newAssignment(t, 1000, 10)

	assert.False(t, a.DueForPenalty(monday.Add(23*time.Hour)))
	assert.Empty(t, a.PenaltyPlan(monday.Add(23*time.Hour)))

	now := monday.Add(3*day + 2*time.Hour)
	assert.True(t, a.DueForPenalty(now))
	assert.Equal(t, []int{1, 2, 3}, a.PenaltyPlan(now))

	a.ApplyCharge(2, now)
	assert.Equal(t, 2, a.ChargedDays)
	require.NotNil(t, a.LastPenaltyAt)
	assert.Equal(t, monday.Add(2*day), *a.LastPenaltyAt)
	assert.Equal(t, []int{3}, a.PenaltyPlan(now))
	assert.Equal(t, "a-1:3", a.PenaltySourceID(3))

	// Charging an older day never moves the counter back.
	a.ApplyCharge(1, now)
	assert.Equal(t, 2, a.ChargedDays)

	a.Enabled = false
	assert.False(t, a.DueForPenalty(now))
	assert.Nil(t, a.PenaltyPlan(now))
}

func TestComplete(t *testing.T) {
	a := newAssignment(t, 0, 0)
	require.NoError(t, a.CheckCompletable())

	late := a.DueAt.Add(25 * time.Hour)
	assert.Equal(t, 0, a.Complete("coach-1", late))
	require.NotNil(t, a.CompletedAt)
	assert.Equal(t, late, *a.CompletedAt)
	assert.True(t, a.IsTerminal())
	assert.Equal(t, 0, a.CurrentValue(monday))

	b := newAssignment(t, 0, 0)
	b.Enabled = false
	assert.ErrorIs(t, b.CheckCompletable(), shared.ErrAssignmentDisabled)
}
