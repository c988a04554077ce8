// Package metrics exports run and task outcomes as Prometheus metrics
package metrics

import (
	"context"
	"strings"

	"github.com/deploymenttheory/go-model-retrain/internal/dag"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	durationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900}
)

// Reporter counts runs, task outcomes and branch decisions
type Reporter struct {
	runs      *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	branches  *prometheus.CounterVec
}

var _ dag.Reporter = (*Reporter)(nil)

// NewReporter creates the collectors and registers them with reg
func NewReporter(reg prometheus.Registerer) (*Reporter, error) {
	r := &Reporter{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrain",
			Name:      "runs_total",
			Help:      "Count of finished DAG runs by final state",
		}, []string{"dag", "state"}),

		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrain",
			Name:      "task_outcomes_total",
			Help:      "Count of task outcomes by state",
		}, []string{"dag", "task", "state"}),

		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "retrain",
			Name:      "task_duration_seconds",
			Help:      "Duration of executed tasks including retries",
			Buckets:   durationBuckets,
		}, []string{"dag", "task"}),

		branches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrain",
			Name:      "branch_decisions_total",
			Help:      "Count of branch selections made by branch tasks",
		}, []string{"dag", "task", "followed"}),
	}

	collectors := []prometheus.Collector{r.runs, r.outcomes, r.durations, r.branches}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Reporter) RunStarted(context.Context, dag.RunInfo) {}

func (r *Reporter) TaskFinished(_ context.Context, run dag.RunInfo, outcome dag.TaskOutcome) {
	r.outcomes.With(prometheus.Labels{
		"dag":   run.DAGID,
		"task":  outcome.TaskID,
		"state": string(outcome.State),
	}).Inc()

	if outcome.Attempts > 0 {
		r.durations.With(prometheus.Labels{"dag": run.DAGID, "task": outcome.TaskID}).
			Observe(outcome.Duration().Seconds())
	}

	if len(outcome.Followed) > 0 {
		r.branches.With(prometheus.Labels{
			"dag":      run.DAGID,
			"task":     outcome.TaskID,
			"followed": strings.Join(outcome.Followed, ","),
		}).Inc()
	}
}

func (r *Reporter) RunFinished(_ context.Context, summary *dag.RunSummary) {
	r.runs.With(prometheus.Labels{"dag": summary.DAGID, "state": string(summary.State)}).Inc()
}
