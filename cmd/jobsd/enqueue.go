package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

func (c *cli) enqueueCmd() *cobra.Command {
	var (
		delay       time.Duration
		priority    string
		dedupeKey   string
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "enqueue <queue> <type> <payload-json>",
		Short: "Add a job to a queue",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage(args[2])
			if !json.Valid(payload) {
				return fmt.Errorf("%w: payload is not valid JSON", queue.ErrInvalidPayload)
			}

			var opts []queue.EnqueueOption
			if delay > 0 {
				opts = append(opts, queue.WithDelay(delay))
			}
			if priority != "" {
				p, err := parsePriority(priority)
				if err != nil {
					return err
				}
				opts = append(opts, queue.WithPriority(p))
			}
			if dedupeKey != "" {
				opts = append(opts, queue.WithDedupeKey(dedupeKey))
			}
			if maxAttempts > 0 {
				opts = append(opts, queue.WithMaxAttempts(maxAttempts))
			}

			rt, err := c.connect(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			id, err := rt.registry.Enqueue(cmd.Context(), args[0], args[1], payload, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", 0, "make the job available after this delay")
	cmd.Flags().StringVar(&priority, "priority", "", "highest, high, normal, low, lowest or 0-100 (default: queue policy)")
	cmd.Flags().StringVar(&dedupeKey, "dedupe-key", "", "reject the job while another with this key is outstanding")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "override the queue's attempt limit")
	return cmd
}

func parsePriority(s string) (queue.Priority, error) {
	switch strings.ToLower(s) {
	case "highest":
		return queue.PriorityHighest, nil
	case "high":
		return queue.PriorityHigh, nil
	case "normal":
		return queue.PriorityNormal, nil
	case "low":
		return queue.PriorityLow, nil
	case "lowest":
		return queue.PriorityLowest, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || !queue.Priority(n).Valid() {
		return 0, fmt.Errorf("%w: %q", queue.ErrInvalidPriority, s)
	}
	return queue.Priority(n), nil
}
