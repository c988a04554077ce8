package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deploymenttheory/go-model-retrain/internal/bootstrap"
	"github.com/deploymenttheory/go-model-retrain/internal/config"
	"github.com/deploymenttheory/go-model-retrain/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	runModelVersion string
	runLogicalDate  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the workflow once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Instance
		if runModelVersion != "" {
			cfg.Model.Version = runModelVersion
		}

		logicalDate := time.Now().UTC()
		if runLogicalDate != "" {
			parsed, err := time.Parse(time.DateOnly, runLogicalDate)
			if err != nil {
				return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD: %w", runLogicalDate, err)
			}
			logicalDate = parsed
		}

		app, err := bootstrap.New(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := app.RunOnce(ctx, logicalDate)
		if err != nil {
			return err
		}

		printReport(cmd.OutOrStdout(), report)
		if !report.Succeeded() {
			return fmt.Errorf("run %s failed", report.RunID)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runModelVersion, "version", "", "model version to train (overrides model.version)")
	runCmd.Flags().StringVar(&runLogicalDate, "date", "", "logical date of the run, YYYY-MM-DD (default now)")
}

func printReport(w io.Writer, report *pipeline.Report) {
	fmt.Fprintf(w, "Run %s: %s\n", report.RunID, report.State)
	if report.Metrics != nil {
		m := report.Metrics
		fmt.Fprintf(w, "  metrics:  accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f\n", m.Accuracy, m.Precision, m.Recall, m.F1)
	}
	fmt.Fprintf(w, "  decision: %s\n", report.Decision)
	if report.Deployment != nil {
		fmt.Fprintf(w, "  deployed: %s -> %s\n", report.Deployment.Version, report.Deployment.Location)
	}
	if report.Notification != nil {
		fmt.Fprintf(w, "  notified: chat %s\n", report.Notification.ChatID)
	}
	if report.Skip != nil {
		fmt.Fprintf(w, "  skipped:  %s (accuracy %.4f < %.2f)\n", report.Skip.Reason, report.Skip.Accuracy, report.Skip.Threshold)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(w, "  error:    %s: %s\n", e.TaskID, e.Error)
	}
}
