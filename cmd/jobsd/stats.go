package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

func (c *cli) statsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print job counts per queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.connect(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			collector, err := queue.NewStatsCollector(rt.registry, queue.WithStatsLogger(c.log))
			if err != nil {
				return err
			}
			stats, err := collector.Collect(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "QUEUE\tWAITING\tACTIVE\tDELAYED\tCOMPLETED\tFAILED\tTOTAL")
			for _, s := range stats {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
					s.Name, s.Waiting, s.Active, s.Delayed, s.Completed, s.Failed, s.Total)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
