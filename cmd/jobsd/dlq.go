package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/marketjobs/pkg/deadletter"
	"github.com/dmitrymomot/marketjobs/pkg/logger"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

func (c *cli) dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered jobs",
	}
	cmd.AddCommand(c.dlqListCmd(), c.dlqShowCmd(), c.dlqReplayCmd(), c.dlqRecoverCmd())
	return cmd
}

func (c *cli) dlqListCmd() *cobra.Command {
	var (
		filter queue.DeadLetterFilter
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			rt, err := c.connect(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			recs, err := rt.store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no dead-letter records")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tQUEUE\tTYPE\tATTEMPTS\tFAILED AT\tREPLAYED\tERROR")
			for _, r := range recs {
				replayed := "-"
				if r.ReplayedAt != nil {
					replayed = r.ReplayedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					r.ID, r.OriginalQueue, r.OriginalType, r.RetryCount,
					r.FailedAt.Format(time.RFC3339), replayed, truncate(r.ErrorMessage, 60))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&filter.Queue, "queue", "", "only records from this queue")
	cmd.Flags().DurationVar(&since, "since", 0, "only records that failed within this window")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum records to print")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "records to skip")
	return cmd
}

func (c *cli) dlqShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <record-id>",
		Short: "Print one dead-letter record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid record id %q: %w", args[0], err)
			}

			rt, err := c.connect(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, err := rt.store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func (c *cli) dlqReplayCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "replay <record-id>",
		Short: "Enqueue a dead-lettered job again into its original queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid record id %q: %w", args[0], err)
			}

			rt, err := c.connect(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			jobID, err := deadletter.Replay(cmd.Context(), rt.store, rt.registry, id, time.Now(), force)
			if err != nil {
				return err
			}
			c.log.InfoContext(cmd.Context(), "dead letter replayed",
				slog.String("record_id", id.String()), logger.JobID(jobID))
			fmt.Fprintln(cmd.OutOrStdout(), jobID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replay a record that was already replayed")
	return cmd
}

func (c *cli) dlqRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Move records from the fallback log into the dead-letter store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fallback, err := deadletter.NewFileLog(c.cfg.DeadLetter.FallbackPath)
			if err != nil {
				return err
			}

			rt, err := c.connect(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			moved, err := fallback.Recover(cmd.Context(), rt.store)
			fmt.Fprintf(cmd.OutOrStdout(), "%d records moved from %s\n", moved, fallback.Path())
			return err
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
