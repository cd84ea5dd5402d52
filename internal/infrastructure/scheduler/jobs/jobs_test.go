package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/points-ledger/internal/application/command"
	"github.com/alem-hub/points-ledger/internal/application/port"
)

type features map[string]bool

func (f features) IsEnabled(name string) bool { return f[name] }

type fakePenalties struct {
	calls int
	res   *command.ProcessPenaltiesResult
	err   error
}

func (f *fakePenalties) Handle(_ context.Context, cmd command.ProcessPenaltiesCommand) (*command.ProcessPenaltiesResult, error) {
	f.calls++
	if cmd.StudentID != "" {
		return nil, errors.New("scheduled pass must cover every student")
	}
	return f.res, f.err
}

type fakeAchievements struct {
	calls int
	res   *command.RunAchievementPassResult
	err   error
}

func (f *fakeAchievements) Handle(context.Context, command.RunAchievementPassCommand) (*command.RunAchievementPassResult, error) {
	f.calls++
	return f.res, f.err
}

func TestChargePenaltiesJob(t *testing.T) {
	ctx := context.Background()

	t.Run("feature off", func(t *testing.T) {
		p := &fakePenalties{}
		j := NewChargePenaltiesJob(p, features{}, nil)
		require.NoError(t, j.Run(ctx))
		assert.Zero(t, p.calls)
		assert.Nil(t, j.LastResult())
	})

	t.Run("clean pass", func(t *testing.T) {
		p := &fakePenalties{res: &command.ProcessPenaltiesResult{PenaltiesApplied: 3}}
		j := NewChargePenaltiesJob(p, features{port.FeaturePenaltiesAutoCharge: true}, nil)
		require.NoError(t, j.Run(ctx))
		assert.Equal(t, 1, p.calls)
		assert.Equal(t, 3, j.LastResult().PenaltiesApplied)
		assert.Equal(t, ChargePenaltiesName, j.Name())
	})

	t.Run("item failures fail the run", func(t *testing.T) {
		p := &fakePenalties{res: &command.ProcessPenaltiesResult{Errors: 2}}
		j := NewChargePenaltiesJob(p, nil, nil)
		assert.ErrorIs(t, j.Run(ctx), ErrItemsFailed)
	})

	t.Run("lock held elsewhere", func(t *testing.T) {
		p := &fakePenalties{res: &command.ProcessPenaltiesResult{Skipped: true}}
		j := NewChargePenaltiesJob(p, nil, nil)
		assert.NoError(t, j.Run(ctx))
		assert.True(t, j.LastResult().Skipped)
	})

	t.Run("handler error", func(t *testing.T) {
		boom := errors.New("boom")
		p := &fakePenalties{res: &command.ProcessPenaltiesResult{}, err: boom}
		j := NewChargePenaltiesJob(p, nil, nil)
		assert.ErrorIs(t, j.Run(ctx), boom)
	})
}

func TestAwardAchievementsJob(t *testing.T) {
	ctx := context.Background()

	a := &fakeAchievements{}
	j := NewAwardAchievementsJob(a, features{port.FeaturePenaltiesAutoCharge: true}, nil)
	require.NoError(t, j.Run(ctx))
	assert.Zero(t, a.calls)

	a = &fakeAchievements{res: &command.RunAchievementPassResult{Awarded: 4}}
	j = NewAwardAchievementsJob(a, features{port.FeatureAchievementsAutoAward: true}, nil)
	require.NoError(t, j.Run(ctx))
	assert.Equal(t, 4, j.LastResult().Awarded)
	assert.Equal(t, AwardAchievementsName, j.Name())
	assert.NotEmpty(t, j.Description())

	a = &fakeAchievements{res: &command.RunAchievementPassResult{Awarded: 1, Errors: 1}}
	j = NewAwardAchievementsJob(a, nil, nil)
	assert.ErrorIs(t, j.Run(ctx), ErrItemsFailed)
}
