package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/districtscouts/roster/internal/app"
	"github.com/districtscouts/roster/internal/app/scheduler"
	"github.com/districtscouts/roster/pkg/logger"
)

type cli struct {
	configPath string
	cfg        *app.Config
	opts       []app.RuntimeOption
}

func newRootCommand(opts ...app.RuntimeOption) *cobra.Command {
	c := &cli{opts: opts}

	root := &cobra.Command{
		Use:           "roster",
		Short:         "Keep the district directory and mailing groups in step with TSA",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadApplicationConfig(c.configPath)
			if err != nil {
				return err
			}
			if err := app.ConfigureLogging(cfg.LogLevel, cfg.LogEncoding); err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}
			c.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to configuration directory or file")

	root.AddCommand(
		c.importTSACommand(),
		c.updateMailingGroupsCommand(),
		c.syncWorkspaceCommand(),
		c.syncWorkspaceGroupsCommand(),
		c.importWaitingListCommand(),
		c.historyCommand(),
		c.statusCommand(),
		c.serveCommand(),
	)
	return root
}

// withRuntime opens a runtime for the duration of fn.
func (c *cli) withRuntime(ctx context.Context, fn func(*app.Runtime) error) (err error) {
	rt, err := app.NewRuntime(ctx, c.cfg, c.opts...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.WithModule("bootstrap").Warn("failed to close runtime", zap.Error(closeErr))
		}
	}()
	return fn(rt)
}

// runJob executes task under the batch lock, records it, then prints its report.
func (c *cli) runJob(cmd *cobra.Command, name string, task func(context.Context, *app.Runtime) (fmt.Stringer, map[string]any, error)) error {
	return c.withRuntime(cmd.Context(), func(rt *app.Runtime) error {
		var report fmt.Stringer
		err := rt.Runner.Execute(cmd.Context(), name, scheduler.TriggerCLI, func(ctx context.Context) (map[string]any, error) {
			var (
				summary map[string]any
				err     error
			)
			report, summary, err = task(ctx, rt)
			return summary, err
		})
		if report != nil {
			fmt.Fprintln(cmd.OutOrStdout(), report.String())
		}
		return err
	})
}

func (c *cli) importTSACommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import-tsa",
		Short: "Mirror the district hierarchy, people and roles from the TSA API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runJob(cmd, "import-tsa", func(ctx context.Context, rt *app.Runtime) (fmt.Stringer, map[string]any, error) {
				report, err := rt.ImportTSA(ctx)
				return report, report.Summary(), err
			})
		},
	}
}

func (c *cli) updateMailingGroupsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update-mailing-groups",
		Short: "Rebuild the mailing group catalog and recompute members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runJob(cmd, "update-mailing-groups", func(ctx context.Context, rt *app.Runtime) (fmt.Stringer, map[string]any, error) {
				report, err := rt.UpdateMailingGroups(ctx)
				return report, report.Summary(), err
			})
		},
	}
}

func (c *cli) syncWorkspaceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-workspace",
		Short: "Mirror Google Workspace accounts and aliases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runJob(cmd, "sync-workspace", func(ctx context.Context, rt *app.Runtime) (fmt.Stringer, map[string]any, error) {
				report, err := rt.SyncWorkspace(ctx)
				return report, report.Summary(), err
			})
		},
	}
}

func (c *cli) syncWorkspaceGroupsCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sync-workspace-groups",
		Short: "Push mailing groups, settings and members to Google Workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runJob(cmd, "sync-workspace-groups", func(ctx context.Context, rt *app.Runtime) (fmt.Stringer, map[string]any, error) {
				report, err := rt.SyncWorkspaceGroups(ctx, dryRun)
				summary := report.Summary()
				summary["dry_run"] = dryRun
				return report, summary, err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report planned changes without modifying the directory")
	return cmd
}

func (c *cli) importWaitingListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import-waiting-list <file.xlsx>",
		Short: "Replace the waiting list with the rows of an OSM export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runJob(cmd, "import-waiting-list", func(ctx context.Context, rt *app.Runtime) (fmt.Stringer, map[string]any, error) {
				report, err := rt.ImportWaitingList(ctx, args[0])
				return report, report.Summary(), err
			})
		},
	}
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfigFile(path)
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}
