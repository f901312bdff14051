package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

func (c *cli) scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and trigger recurring jobs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print recurring jobs and their next run",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withScheduler(cmd, func(s *queue.Scheduler) error {
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "NAME\tQUEUE\tCRON\tNEXT")
					for _, e := range s.Entries() {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.DedupeKey, e.Queue, e.Cron, e.Next.Format(time.RFC3339))
					}
					return tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "fire <name>",
			Short: "Enqueue one run of a recurring job now",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withScheduler(cmd, func(s *queue.Scheduler) error {
					outcome, err := s.Fire(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], outcome)
					return nil
				})
			},
		},
	)
	return cmd
}

func (c *cli) withScheduler(cmd *cobra.Command, fn func(*queue.Scheduler) error) error {
	rt, err := c.connect(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer rt.Close()

	recurring, err := c.recurring(cmd.Context(), nil)
	if err != nil {
		return err
	}
	scheduler, err := queue.NewScheduler(rt.registry, queue.WithSchedulerLogger(c.log))
	if err != nil {
		return err
	}
	if err := scheduler.Register(recurring...); err != nil {
		return err
	}
	return fn(scheduler)
}
