package pipeline

import (
	"time"

	"github.com/deploymenttheory/go-model-retrain/internal/dag"
	"github.com/google/uuid"
)

// StepError is a failed step and its error text
type StepError struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// Report is the pipeline-level view of one run
type Report struct {
	RunID        uuid.UUID            `json:"run_id"`
	LogicalDate  time.Time            `json:"logical_date"`
	State        dag.RunState         `json:"state"`
	Training     *TrainingResult      `json:"training,omitempty"`
	Metrics      *Metrics             `json:"metrics,omitempty"`
	Decision     Decision             `json:"decision"`
	Deployment   *DeploymentRecord    `json:"deployment,omitempty"`
	Notification *NotificationMessage `json:"notification,omitempty"`
	Skip         *SkipRecord          `json:"skip,omitempty"`
	Errors       []StepError          `json:"errors,omitempty"`

	// Underlying run, for callers that need per-task detail
	Summary *dag.RunSummary `json:"-"`
}

// Succeeded reports whether every executed task finished successfully
func (r *Report) Succeeded() bool {
	return r.State == dag.RunSuccess
}

// ReportFromSummary collects the typed step outputs of a run
func ReportFromSummary(summary *dag.RunSummary) *Report {
	report := &Report{
		RunID:       summary.RunID,
		LogicalDate: summary.LogicalDate,
		State:       summary.State,
		Summary:     summary,
	}

	for _, outcome := range summary.Tasks {
		if outcome.State == dag.StateFailed && outcome.Err != nil {
			report.Errors = append(report.Errors, StepError{TaskID: outcome.TaskID, Error: outcome.Err.Error()})
		}
		if outcome.State != dag.StateSuccess {
			continue
		}

		switch v := outcome.Output.(type) {
		case TrainingResult:
			report.Training = &v
		case Metrics:
			report.Metrics = &v
		case GateOutcome:
			report.Decision = v.Decision
		case DeploymentRecord:
			report.Deployment = &v
		case NotificationMessage:
			report.Notification = &v
		case SkipRecord:
			report.Skip = &v
		}
	}
	return report
}
