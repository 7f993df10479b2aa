package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"guildlink/internal/matching"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	app := &appContext{}

	rootCmd := &cobra.Command{
		Use:           "guildlink",
		Short:         "Link guild characters, chat accounts and players, and audit the links",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&app.envFile, "env-file", "", "Load environment from this file instead of .env")

	rootCmd.AddCommand(newMigrateCommand(app))
	rootCmd.AddCommand(newMatchCommand(app))
	rootCmd.AddCommand(newIntegrityCommand(app))
	rootCmd.AddCommand(newMitigateCommand(app))
	rootCmd.AddCommand(newDriftCommand(app))
	rootCmd.AddCommand(newExportCommand(app))

	return rootCmd
}

// run executes fn with a context cancelled on SIGINT/SIGTERM.
func run(app *appContext, name string, fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer app.close()
	app.command = name
	return app.finish(name, fn(ctx))
}

func newMigrateCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(app, "migrate", app.migrate)
		},
	}
}

func newMatchCommand(app *appContext) *cobra.Command {
	var opts matching.Options

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Run the matching rules until no pass links anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(app, "match", func(ctx context.Context) error {
				svc, err := app.engine(ctx)
				if err != nil {
					return err
				}
				res, err := svc.RunMatchingRules(ctx, opts)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderMatchResult(res))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&opts.MinRankLevel, "min-rank", 0, "Ignore characters below this rank level (default from MATCH_MIN_RANK_LEVEL)")
	cmd.Flags().IntVar(&opts.MaxPasses, "max-passes", 0, "Maximum number of passes (default from MATCH_MAX_PASSES)")
	return cmd
}

func newIntegrityCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "integrity",
		Short: "Run every detector and the auto-resolve sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(app, "integrity", func(ctx context.Context) error {
				svc, err := app.engine(ctx)
				if err != nil {
					return err
				}
				report, err := svc.RunIntegrityCheck(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderIntegrityReport(report))
				return nil
			})
		},
	}
}

func newMitigateCommand(app *appContext) *cobra.Command {
	var issueID int64
	var actor string
	var dismiss string

	cmd := &cobra.Command{
		Use:   "mitigate",
		Short: "Run the auto-mitigation batch, or mitigate a single issue with --issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(app, "mitigate", func(ctx context.Context) error {
				svc, err := app.engine(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				if issueID == 0 {
					res, err := svc.RunAutoMitigations(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, renderBatchResult(res))
					return nil
				}

				if dismiss != "" {
					if err := svc.Dismiss(ctx, issueID, actor, dismiss); err != nil {
						return err
					}
					fmt.Fprintf(out, "issue %d dismissed: %s\n", issueID, dismiss)
					return nil
				}

				outcome, err := svc.Mitigate(ctx, issueID, actor)
				if err != nil {
					return err
				}
				if outcome.Resolved {
					fmt.Fprintf(out, "issue %d resolved: %s\n", issueID, outcome.Resolution)
				} else {
					fmt.Fprintf(out, "issue %d left open\n", issueID)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&issueID, "issue", 0, "Mitigate only this issue id")
	cmd.Flags().StringVar(&actor, "actor", "admin:"+currentUser(), "Recorded as resolved_by for --issue")
	cmd.Flags().StringVar(&dismiss, "dismiss", "", "Close --issue with this resolution without running its handler")
	return cmd
}

func newDriftCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "drift",
		Short: "Detect drifted links and repair the ones safe to repair",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(app, "drift", func(ctx context.Context) error {
				svc, err := app.engine(ctx)
				if err != nil {
					return err
				}
				report, err := svc.RunDriftScan(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderDriftReport(report))
				return nil
			})
		},
	}
}

func newExportCommand(app *appContext) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write open audit issues to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(app, "export", func(ctx context.Context) error {
				svc, err := app.engine(ctx)
				if err != nil {
					return err
				}
				data, err := svc.ExportIssues(ctx)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", out, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s bytes)\n", out, strconv.Itoa(len(data)))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "audit_issues.xlsx", "Output file")
	return cmd
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}
