package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gema-dev/gema/internal/checkpoint"
	"github.com/gema-dev/gema/internal/config"
	"github.com/gema-dev/gema/internal/metrics"
)

func statusCmd() *cobra.Command {
	var hours int
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent agent runs and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir := config.DataDir()

			checkpoints, err := checkpoint.NewStore(filepath.Join(dataDir, "state", "tasks"))
			if err != nil {
				return err
			}
			tasks, err := checkpoints.Recent(limit)
			if err != nil {
				return err
			}
			fmt.Printf("Recent runs (%d):\n", len(tasks))
			if len(tasks) > 0 {
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TASK\tKIND\tSESSION\tSTATUS\tFINISHED\tERROR")
				for _, t := range tasks {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						t.TaskID, t.Kind, t.SessionKey, t.Status, t.FinishedAt, t.Error)
				}
				w.Flush()
			}

			store, err := metrics.NewStore(filepath.Join(dataDir, "state", "metrics"))
			if err != nil {
				return err
			}
			snap, err := store.Snapshot(hours)
			if err != nil {
				return err
			}
			fmt.Printf("\nMetrics, last %dh:\n", snap.WindowHours)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tCOUNT\tSUCCESS\tFAILURE\tP95 MS\tAVG MS")
			for name, cat := range snap.Categories {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.0f\t%.0f\n",
					name, cat.Count, cat.Success, cat.Failure, cat.P95MS, cat.AvgMS)
			}
			w.Flush()
			fmt.Printf("tokens in/out: %d/%d, recall hit rate: %.2f\n",
				snap.TokensIn, snap.TokensOut, snap.RecallHitRate)

			summary := snap.Alerts(metrics.DefaultThresholds())
			fmt.Printf("\nHealth: %s\n", summary.Overall)
			for _, check := range summary.Checks {
				if check.Status == "ok" {
					continue
				}
				fmt.Printf("  %s: %s (value %.2f, limit %.2f) %s\n",
					check.Name, check.Status, check.Value, check.Limit, check.Detail)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "metrics window in hours")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent runs to show")
	return cmd
}
