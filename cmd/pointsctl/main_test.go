package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig points the CLI at a fresh SQLite file.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "points.toml")
	body := fmt.Sprintf(`
[database]
driver = "sqlite"
path = %q

[engine]
default_actor = "cli-test"
%s`, filepath.Join(dir, "points.db"), extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m), s)
	return m
}

func TestLedgerAppendAndShowBalances(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := execute(t, cfg, "students", "register", "s-1", "--name", "Aida")
	require.NoError(t, err)
	assert.Equal(t, "applied", decode(t, out)["outcome"])

	out, err = execute(t, cfg, "students", "register", "s-1")
	require.NoError(t, err)
	assert.Equal(t, "already_processed", decode(t, out)["outcome"])

	_, err = execute(t, cfg, "ledger", "append", "s-1", "--points", "150", "--category", "class_award")
	require.NoError(t, err)
	out, err = execute(t, cfg, "ledger", "append", "s-1", "--points", "-30", "--note", "fix")
	require.NoError(t, err)
	entryID, _ := decode(t, out)["entry_id"].(string)
	require.NotEmpty(t, entryID)

	out, err = execute(t, cfg, "balances", "show", "s-1")
	require.NoError(t, err)
	b := decode(t, out)
	assert.EqualValues(t, 120, b["points_balance"])
	assert.EqualValues(t, 150, b["lifetime_points"])

	out, err = execute(t, cfg, "ledger", "list", "s-1")
	require.NoError(t, err)
	assert.Contains(t, out, "manual_adjustment")
	assert.Contains(t, out, "cli-test")

	_, err = execute(t, cfg, "ledger", "undo", entryID)
	require.NoError(t, err)

	out, err = execute(t, cfg, "balances", "recompute", "s-1")
	require.NoError(t, err)
	var rebuilt []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rebuilt))
	require.Len(t, rebuilt, 1)
	assert.EqualValues(t, 150, rebuilt[0]["points_balance"])
}

func TestActorFlagRecordedOnEntries(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := execute(t, cfg, "students", "register", "s-1")
	require.NoError(t, err)
	_, err = execute(t, cfg, "--actor", "coach-7", "ledger", "append", "s-1", "--points", "10")
	require.NoError(t, err)

	out, err := execute(t, cfg, "ledger", "list", "s-1")
	require.NoError(t, err)
	assert.Contains(t, out, "coach-7")
}

func TestLedgerAppend_UnknownStudent(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := execute(t, cfg, "ledger", "append", "ghost", "--points", "10")
	require.Error(t, err)
}

func TestJobsRunOnEmptyStore(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := execute(t, cfg, "penalties", "run")
	require.NoError(t, err)
	assert.EqualValues(t, 0, decode(t, out)["penalties_applied"])

	out, err = execute(t, cfg, "achievements", "run")
	require.NoError(t, err)
	assert.EqualValues(t, 0, decode(t, out)["awarded"])
}

func TestBadgesAdjust_UnknownBadge(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := execute(t, cfg, "badges", "adjust", "b-missing")
	require.Error(t, err)
}

func TestMigrate(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := execute(t, cfg, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite schema is up to date")

	_, err = execute(t, cfg, "migrate", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres driver")
}

func TestConfigErrorsSurface(t *testing.T) {
	cfg := writeConfig(t, "\n[bogus]\nkey = 1\n")

	_, err := execute(t, cfg, "balances", "show", "s-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")
}
