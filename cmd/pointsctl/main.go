// Command pointsctl runs one-off operations against the points store:
// ledger corrections, balance rebuilds, manual penalty and achievement
// passes, retroactive badge adjustments and migrations.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alem-hub/points-ledger/config"
	"github.com/alem-hub/points-ledger/internal/app"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile string
	actor      string
	roles      []string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "pointsctl",
		Short: "Operate the points ledger from the command line",
		Long: `pointsctl talks to the same store as the server and runs the same
command handlers, so every change lands in the ledger with an actor.

Configuration comes from the TOML file (--config or POINTS_CONFIG_FILE)
and POINTS_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", os.Getenv(config.ConfigFileEnv), "path to the TOML config file")
	pf.StringVar(&opts.actor, "actor", "", "actor id recorded on changes (default: engine.default_actor)")
	pf.StringSliceVar(&opts.roles, "roles", nil, "comma-separated actor roles")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newStudentsCmd(opts),
		newLedgerCmd(opts),
		newBalancesCmd(opts),
		newPenaltiesCmd(opts),
		newAchievementsCmd(opts),
		newBadgesCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

// loadConfig reads the config and applies the CLI log level.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Observability.LogLevel = o.logLevel
	}
	// CLI output goes to stdout; logs stay on stderr, never in a file.
	cfg.Observability.LogFile = ""
	cfg.Observability.LogFormat = "console"
	// The scrape endpoint does not exist here.
	cfg.Observability.MetricsEnabled = false
	return cfg, nil
}

// withApp opens the app for the duration of fn. Logs go to the command's
// stderr so stdout carries only the result.
func (o *globalOptions) withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	log := app.NewLogger(cfg, cmd.ErrOrStderr())
	defer func() { _ = log.Sync() }()

	a, err := app.New(cmd.Context(), cfg, log, app.Options{SyncEvents: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

// actorFor returns the actor from the flags, or the configured default.
func (o *globalOptions) actorFor(a *app.App) shared.Actor {
	actor := shared.Actor{ID: strings.TrimSpace(o.actor), Roles: o.roles}
	return actor.OrDefault(a.Actor())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
