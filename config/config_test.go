package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/points-ledger/internal/application/port"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "points.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Engine.PenaltyCapPercent)
	assert.Equal(t, "@every 1h", cfg.Scheduler.PenaltySchedule)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.IsDevelopment())
	assert.Empty(t, cfg.Source)
	assert.True(t, cfg.Features.IsEnabled(port.FeaturePenaltiesAutoCharge))
}

func TestLoadFile_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
[app]
timezone = "Asia/Almaty"

[database]
driver = "postgres"
url = "postgres://file/points"

[scheduler]
penalty_schedule = "5 0 * * *"
job_timeout = "90s"

[engine]
penalty_cap_percent = 10

[features]
"achievements.auto_award" = false
"http.rate_limit" = 25
`)
	t.Setenv("DATABASE_URL", "postgres://env/points")
	t.Setenv("SCHEDULER_JOB_TIMEOUT", "2m")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Source)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://env/points", cfg.Database.URL)
	assert.Equal(t, "5 0 * * *", cfg.Scheduler.PenaltySchedule)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.JobTimeout)
	assert.Equal(t, 10, cfg.Engine.PenaltyCapPercent)
	assert.Equal(t, "Asia/Almaty", cfg.App.Location.String())

	assert.False(t, cfg.Features.IsEnabled(port.FeatureAchievementsAutoAward))
	assert.True(t, cfg.Features.IsEnabled(port.FeatureHTTPRateLimit))
}

func TestLoadFile_UnknownKey(t *testing.T) {
	path := writeFile(t, `
[engine]
penalty_cap = 10
`)
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.penalty_cap")
}

func TestLoadFile_UnknownFeature(t *testing.T) {
	path := writeFile(t, `
[features]
"rewards.store" = true
`)
	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrFeatureNotFound)
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Driver = "mysql"
	cfg.Engine.PenaltyCapPercent = 0
	cfg.Observability.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DRIVER")
	assert.Contains(t, err.Error(), "ENGINE_PENALTY_CAP_PERCENT")
	assert.Contains(t, err.Error(), "LOG_FORMAT")
}

func TestValidate_SQLiteNotInProduction(t *testing.T) {
	cfg := Defaults()
	cfg.App.Environment = EnvProduction
	assert.ErrorContains(t, cfg.Validate(), "sqlite")

	cfg.Database.Driver = DriverPostgres
	assert.ErrorContains(t, cfg.Validate(), "DATABASE_URL")

	cfg.Database.URL = "postgres://localhost/points"
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("ENGINE_PENALTY_CAP_PERCENT", "lots")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine.PenaltyCapPercent)
	assert.True(t, cfg.Redis.Enabled)
}
