package config

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/points-ledger/internal/application/port"
)

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := NewFeatureFlags()
	for _, name := range []string{
		port.FeaturePenaltiesAutoCharge,
		port.FeatureAchievementsAutoAward,
		port.FeatureBadgesRetroactiveAdjust,
		port.FeatureHTTPRateLimit,
	} {
		assert.True(t, ff.IsEnabled(name), name)
	}
	assert.False(t, ff.IsEnabled("unknown"))
	assert.Len(t, ff.GetAllFeatures(), 4)
}

func TestFeatureFlags_Env(t *testing.T) {
	t.Setenv("FEATURE_PENALTIES_AUTO_CHARGE", "false")
	t.Setenv("FEATURE_HTTP_RATE_LIMIT", "30")

	ff, err := LoadFeatureFlags(nil)
	require.NoError(t, err)
	assert.False(t, ff.IsEnabled(port.FeaturePenaltiesAutoCharge))
	assert.True(t, ff.IsEnabled(port.FeatureHTTPRateLimit))
}

func TestFeatureFlags_FileValues(t *testing.T) {
	_, err := LoadFeatureFlags(map[string]any{port.FeatureHTTPRateLimit: int64(101)})
	assert.ErrorIs(t, err, ErrInvalidRolloutPercent)

	_, err = LoadFeatureFlags(map[string]any{port.FeatureHTTPRateLimit: "yes"})
	assert.Error(t, err)

	ff, err := LoadFeatureFlags(map[string]any{port.FeatureBadgesRetroactiveAdjust: false})
	require.NoError(t, err)
	assert.False(t, ff.IsEnabled(port.FeatureBadgesRetroactiveAdjust))
}

func TestFeatureFlags_PartialRolloutIsStable(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(port.FeatureHTTPRateLimit, 50))

	in := 0
	for i := range 1000 {
		subject := fmt.Sprintf("client-%d", i)
		got := ff.IsEnabledFor(port.FeatureHTTPRateLimit, subject)
		assert.Equal(t, got, ff.IsEnabledFor(port.FeatureHTTPRateLimit, subject))
		if got {
			in++
		}
	}
	assert.InDelta(t, 500, in, 100)

	require.NoError(t, ff.SetRolloutPercent(port.FeatureHTTPRateLimit, 0))
	assert.False(t, ff.IsEnabledFor(port.FeatureHTTPRateLimit, "client-1"))
	assert.ErrorIs(t, ff.SetRolloutPercent("unknown", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(port.FeatureHTTPRateLimit, -1), ErrInvalidRolloutPercent)
}

func TestFeatureFlags_Window(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	ff := NewFeatureFlags()
	ff.now = func() time.Time { return now }

	later := now.Add(time.Hour)
	require.NoError(t, ff.SetWindow(port.FeaturePenaltiesAutoCharge, &later, nil))
	assert.False(t, ff.IsEnabled(port.FeaturePenaltiesAutoCharge))

	earlier := now.Add(-time.Hour)
	require.NoError(t, ff.SetWindow(port.FeaturePenaltiesAutoCharge, &earlier, &later))
	assert.True(t, ff.IsEnabled(port.FeaturePenaltiesAutoCharge))
}

func TestFeatureFlags_FileTable(t *testing.T) {
	from := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ff, err := LoadFeatureFlags(map[string]any{
		port.FeatureHTTPRateLimit: map[string]any{"rollout": int64(50), "from": from},
	})
	require.NoError(t, err)

	f := ff.GetAllFeatures()
	idx := slices.IndexFunc(f, func(f Feature) bool { return f.Name == port.FeatureHTTPRateLimit })
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, 50, f[idx].RolloutPercent)
	require.NotNil(t, f[idx].EnabledFrom)
	assert.True(t, from.Equal(*f[idx].EnabledFrom))
	assert.False(t, ff.IsEnabled(port.FeatureHTTPRateLimit), "not active before its window")

	_, err = LoadFeatureFlags(map[string]any{
		port.FeatureHTTPRateLimit: map[string]any{"from": "tomorrow"},
	})
	assert.ErrorContains(t, err, "expected a datetime")

	_, err = LoadFeatureFlags(map[string]any{
		port.FeatureHTTPRateLimit: map[string]any{"percent": int64(5)},
	})
	assert.ErrorContains(t, err, `unknown key "percent"`)

	_, err = LoadFeatureFlags(map[string]any{"no.such.flag": true})
	assert.ErrorIs(t, err, ErrFeatureNotFound)
}
