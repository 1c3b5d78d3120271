package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/districtscouts/roster/internal/app"
	"github.com/districtscouts/roster/internal/services"
)

func (c *cli) historyCommand() *cobra.Command {
	var (
		limit   int
		filters services.AuditFilters
		since   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent batch runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if since > 0 {
				from := time.Now().Add(-since)
				filters.Since = &from
			}
			return c.withRuntime(cmd.Context(), func(rt *app.Runtime) error {
				logs, total, err := rt.Audit.List(cmd.Context(), services.AuditListOptions{
					Page:     1,
					PageSize: limit,
					Filters:  filters,
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(logs) == 0 {
					fmt.Fprintln(out, "no runs recorded")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "STARTED\tJOB\tTRIGGER\tRESULT\tDURATION\tERROR")
				for _, entry := range logs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						entry.CreatedAt.Local().Format(time.DateTime),
						entry.Action,
						entry.Trigger,
						entry.Result,
						entry.Duration.Round(time.Millisecond),
						entry.Error,
					)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "showing %d of %d\n", len(logs), total)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	cmd.Flags().StringVar(&filters.Action, "job", "", "Only show runs of this job")
	cmd.Flags().StringVar(&filters.Result, "result", "", "Only show runs with this result (success, failure, locked)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show runs started within this window")
	return cmd
}

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show each job's schedule and last successful run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd.Context(), func(rt *app.Runtime) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "JOB\tSCHEDULE\tLAST SUCCESS")
				for _, job := range rt.Jobs() {
					last, err := rt.LastSuccess(cmd.Context(), job.Name)
					if err != nil {
						return err
					}
					schedule, when := job.Spec, "never"
					if schedule == "" {
						schedule = "manual"
					}
					if !last.IsZero() {
						when = last.Local().Format(time.DateTime)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", job.Name, schedule, when)
				}
				return w.Flush()
			})
		},
	}
}
