package dag

import (
	"context"

	"github.com/deploymenttheory/go-model-retrain/internal/logger"
)

// Reporter receives run and task outcomes as the executor produces them.
// Implementations handle their own failures; a reporter never fails a run.
type Reporter interface {
	RunStarted(ctx context.Context, run RunInfo)
	TaskFinished(ctx context.Context, run RunInfo, outcome TaskOutcome)
	RunFinished(ctx context.Context, summary *RunSummary)
}

// MultiReporter fans every event out to each reporter in order
type MultiReporter []Reporter

func (m MultiReporter) RunStarted(ctx context.Context, run RunInfo) {
	for _, r := range m {
		r.RunStarted(ctx, run)
	}
}

func (m MultiReporter) TaskFinished(ctx context.Context, run RunInfo, outcome TaskOutcome) {
	for _, r := range m {
		r.TaskFinished(ctx, run, outcome)
	}
}

func (m MultiReporter) RunFinished(ctx context.Context, summary *RunSummary) {
	for _, r := range m {
		r.RunFinished(ctx, summary)
	}
}

// LogReporter writes outcomes to the structured logger
type LogReporter struct{}

func (LogReporter) RunStarted(_ context.Context, run RunInfo) {
	logger.LogInfo("Starting DAG run", map[string]interface{}{
		"dag":          run.DAGID,
		"run_id":       run.RunID.String(),
		"logical_date": run.LogicalDate,
	})
}

func (LogReporter) TaskFinished(_ context.Context, run RunInfo, outcome TaskOutcome) {
	fields := map[string]interface{}{
		"dag":      run.DAGID,
		"run_id":   run.RunID.String(),
		"task":     outcome.TaskID,
		"state":    string(outcome.State),
		"attempts": outcome.Attempts,
	}
	if len(outcome.Followed) > 0 {
		fields["followed"] = outcome.Followed
	}

	switch outcome.State {
	case StateFailed:
		logger.LogError("Task failed", outcome.Err, fields)
	case StateSuccess:
		fields["duration"] = outcome.Duration().String()
		logger.LogInfo("Task succeeded", fields)
	default:
		logger.LogInfo("Task not run", fields)
	}
}

func (LogReporter) RunFinished(_ context.Context, summary *RunSummary) {
	fields := map[string]interface{}{
		"dag":      summary.DAGID,
		"run_id":   summary.RunID.String(),
		"state":    string(summary.State),
		"duration": summary.FinishedAt.Sub(summary.StartedAt).String(),
	}
	if summary.State == RunFailed {
		logger.LogWarn("DAG run failed", fields)
		return
	}
	logger.LogInfo("DAG run completed successfully", fields)
}
