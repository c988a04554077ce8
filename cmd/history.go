package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/deploymenttheory/go-model-retrain/internal/config"
	"github.com/deploymenttheory/go-model-retrain/internal/history"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs and the branch each one took",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(history.Config{
			Driver: config.Instance.History.Driver,
			DSN:    config.Instance.History.DSN,
		})
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns(context.Background(), historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tLOGICAL DATE\tSTATE\tBRANCH\tSTARTED")
		for _, run := range runs {
			branch := strings.Join(run.Branch(), ",")
			if branch == "" {
				branch = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				run.Id,
				run.LogicalDate.Format(time.DateOnly),
				run.State,
				branch,
				run.StartedAt.Local().Format(time.DateTime),
			)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
}
