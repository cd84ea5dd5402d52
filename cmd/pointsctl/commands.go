package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/points-ledger/config"
	"github.com/alem-hub/points-ledger/internal/app"
	"github.com/alem-hub/points-ledger/internal/application/command"
	"github.com/alem-hub/points-ledger/internal/application/query"
	"github.com/alem-hub/points-ledger/internal/domain/achievement"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/infrastructure/persistence/postgres"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

func newStudentsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "students",
		Short: "Manage the engine's student rows",
	}

	var name string
	register := &cobra.Command{
		Use:   "register <student-id>",
		Short: "Register a roster student; repeating is a no-op",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				res, err := a.Commands.RegisterStudent.Handle(cmd.Context(), command.RegisterStudentCommand{
					StudentID:   args[0],
					DisplayName: name,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"id":       res.Student.ID,
					"outcome":  res.Outcome,
					"balances": query.NewBalancesDTO(res.Student.ID, res.Student.Balances),
				})
			})
		},
	}
	register.Flags().StringVar(&name, "name", "", "display name")

	cmd.AddCommand(register)
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

func newLedgerCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Append, list and undo ledger entries",
	}
	cmd.AddCommand(newLedgerAppendCmd(opts), newLedgerListCmd(opts), newLedgerUndoCmd(opts))
	return cmd
}

func newLedgerAppendCmd(opts *globalOptions) *cobra.Command {
	var (
		points     int
		category   string
		sourceType string
		sourceID   string
		note       string
	)
	cmd := &cobra.Command{
		Use:   "append <student-id>",
		Short: "Append a signed ledger entry and update balances",
		Long: `Append a ledger entry. Positive points add to balance, total and
lifetime; negative points reduce balance and total only.

Example:
  pointsctl ledger append s-42 --points 50 --category class_award --note "demo day"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				res, err := a.Commands.AppendLedgerEntry.Handle(cmd.Context(), command.AppendLedgerEntryCommand{
					StudentID:  args[0],
					Points:     points,
					Category:   ledger.Category(category),
					SourceType: sourceType,
					SourceID:   sourceID,
					Note:       note,
					CreatedBy:  opts.actorFor(a).ID,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"entry_id": res.EntryID,
					"balances": query.NewBalancesDTO(args[0], res.Balances),
				})
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&points, "points", 0, "signed point delta")
	f.StringVar(&category, "category", string(ledger.CategoryManualAdjustment), "ledger category")
	f.StringVar(&sourceType, "source-type", "", "source type, e.g. skill_sprint")
	f.StringVar(&sourceID, "source-id", "", "source id")
	f.StringVar(&note, "note", "", "free-form note")
	_ = cmd.MarkFlagRequired("points")
	return cmd
}

func newLedgerListCmd(opts *globalOptions) *cobra.Command {
	var (
		category string
		since    time.Duration
		limit    int
		offset   int
	)
	cmd := &cobra.Command{
		Use:   "list <student-id>",
		Short: "List a student's ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				q := query.ListLedgerQuery{
					StudentID: args[0],
					Category:  category,
					Limit:     limit,
					Offset:    offset,
				}
				if since > 0 {
					q.From = a.Clock.Now().Add(-since)
				}
				res, err := a.Queries.ListLedger.Handle(cmd.Context(), q)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tPOINTS\tCATEGORY\tSOURCE\tBY\tAT")
				for _, e := range res.Entries {
					source := e.SourceType
					if e.SourceID != "" {
						source += ":" + e.SourceID
					}
					fmt.Fprintf(tw, "%s\t%+d\t%s\t%s\t%s\t%s\n",
						e.ID, e.Points, e.Category, source, e.CreatedBy, e.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&category, "category", "", "only this category")
	f.DurationVar(&since, "since", 0, "only entries newer than this, e.g. 72h")
	f.IntVar(&limit, "limit", 50, "page size")
	f.IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func newLedgerUndoCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <entry-id>",
		Short: "Delete a ledger entry and reverse its balance effect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				res, err := a.Commands.UndoLedgerEntry.Handle(cmd.Context(), command.UndoLedgerEntryCommand{
					EntryID: args[0],
					Actor:   opts.actorFor(a),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"entry_id": res.EntryID,
					"points":   res.Points,
					"balances": query.NewBalancesDTO(res.StudentID, res.Balances),
				})
			})
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BALANCES
// ══════════════════════════════════════════════════════════════════════════════

func newBalancesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Show or rebuild cached balances",
	}

	show := &cobra.Command{
		Use:   "show <student-id>",
		Short: "Show a student's balances and level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				dto, err := a.Queries.GetBalances.Handle(cmd.Context(), query.GetBalancesQuery{StudentID: args[0]})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), dto)
			})
		},
	}

	recompute := &cobra.Command{
		Use:   "recompute <student-id>...",
		Short: "Rebuild balances from the full ledger",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				out := make([]*query.BalancesDTO, 0, len(args))
				var errs []error
				for _, id := range args {
					res, err := a.Commands.RecomputeBalances.Handle(cmd.Context(), command.RecomputeBalancesCommand{StudentID: id})
					if err != nil {
						errs = append(errs, err)
						continue
					}
					out = append(out, query.NewBalancesDTO(res.StudentID, res.Balances))
				}
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
				return errors.Join(errs...)
			})
		},
	}

	cmd.AddCommand(show, recompute)
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// JOBS
// ══════════════════════════════════════════════════════════════════════════════

func newPenaltiesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "penalties",
		Short: "Skill sprint penalties",
	}

	var studentID string
	run := &cobra.Command{
		Use:   "run",
		Short: "Charge every overdue, uncharged sprint day now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				res, err := a.Commands.ProcessPenalties.Handle(cmd.Context(), command.ProcessPenaltiesCommand{StudentID: studentID})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"penalties_applied":   res.PenaltiesApplied,
					"assignments_scanned": res.AssignmentsScanned,
					"already_charged":     res.AlreadyCharged,
					"points_charged":      res.PointsCharged,
					"errors":              res.Errors,
					"skipped":             res.Skipped,
				})
			})
		},
	}
	run.Flags().StringVar(&studentID, "student", "", "only this student's sprints")

	cmd.AddCommand(run)
	return cmd
}

func newAchievementsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "achievements",
		Short: "Automatic badge awards",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Evaluate every enabled auto badge against every student",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				res, err := a.Commands.AchievementPass.Handle(cmd.Context(), command.RunAchievementPassCommand{
					Actor: opts.actorFor(a),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"awarded":          res.Awarded,
					"already_awarded":  res.AlreadyAwarded,
					"badges_evaluated": res.BadgesEvaluated,
					"badges_skipped":   res.BadgesSkipped,
					"errors":           res.Errors,
					"skipped":          res.Skipped,
				})
			})
		},
	})
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGES
// ══════════════════════════════════════════════════════════════════════════════

func newBadgesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "badges",
		Short: "Badge maintenance",
	}

	var confirm bool
	adjust := &cobra.Command{
		Use:   "adjust <badge-id>",
		Short: "Move existing awards of a badge to its current point value",
		Long: `Plan, and with --confirm apply, a ledger correction for every award
whose recorded points differ from the badge's current points_award.

Without --confirm nothing is written. Applying requires the
badges.retroactive_adjust feature.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				res, err := a.Commands.AdjustBadgePoints.Handle(cmd.Context(), command.AdjustBadgePointsCommand{
					BadgeID: args[0],
					Confirm: confirm,
					Actor:   opts.actorFor(a),
				})
				if err != nil {
					return err
				}
				plan := res.Plan
				if plan == nil {
					plan = []achievement.Adjustment{}
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"badge_id":    res.BadgeID,
					"dry_run":     res.DryRun,
					"adjusted":    res.Adjusted,
					"total_delta": res.TotalDelta,
					"errors":      res.Errors,
					"plan":        plan,
				})
			})
		},
	}
	adjust.Flags().BoolVar(&confirm, "confirm", false, "apply the plan")

	cmd.AddCommand(adjust)
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Schema migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log := app.NewLogger(cfg, cmd.ErrOrStderr())
			store, err := app.OpenStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Database.Driver)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations (postgres)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withMigrator(cmd.Context(), func(m *postgres.Migrator) error {
				list, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
				for _, mg := range list {
					applied := "pending"
					if mg.IsApplied {
						applied = mg.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\n", mg.Version, mg.Name, applied)
				}
				return tw.Flush()
			})
		},
	}

	rollback := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the latest migration (postgres)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withMigrator(cmd.Context(), func(m *postgres.Migrator) error {
				if err := m.Rollback(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back latest migration")
				return nil
			})
		},
	}

	cmd.AddCommand(up, status, rollback)
	return cmd
}

// withMigrator connects to Postgres without migrating on open.
func (o *globalOptions) withMigrator(ctx context.Context, fn func(m *postgres.Migrator) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("migration status and rollback need the postgres driver, got %q", cfg.Database.Driver)
	}
	conn, err := postgres.NewConnection(ctx, app.PostgresConfig(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(postgres.NewMigrator(conn))
}
