package dag

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskFunc executes a task. The returned value becomes the task's output and
// can be pulled by downstream tasks.
type TaskFunc func(ctx context.Context, tc *TaskContext) (any, error)

// Task is a single node in the graph
type Task struct {
	// Unique identifier of the task (required)
	ID string

	// Optional human-readable description of the task
	Description string

	// Tasks that must finish successfully before this one runs
	Upstream []string

	// Branch tasks must return a Branch value selecting which direct
	// downstream tasks continue
	Branch bool

	// Extra attempts after a failure. InheritRetries uses the executor default.
	Retries int

	// When the task runs given its upstream states. Empty means TriggerAllSuccess.
	TriggerRule TriggerRule

	// Work performed by the task (required)
	Run TaskFunc
}

// InheritRetries makes a task use the executor's retry policy
const InheritRetries = -1

// TriggerRule decides whether a task runs once its upstream tasks finish
type TriggerRule string

const (
	// TriggerAllSuccess runs the task only if every upstream task succeeded
	TriggerAllSuccess TriggerRule = "all_success"

	// TriggerNoneFailedMinOneSuccess runs the task if no upstream task failed
	// and at least one succeeded. It joins the paths of a branch.
	TriggerNoneFailedMinOneSuccess TriggerRule = "none_failed_min_one_success"
)

// Branch is the output of a branch task
type Branch struct {
	// Direct downstream task IDs that should run; the rest are skipped
	Follow []string

	// Value stored as the branch task's output
	Value any
}

// TaskState is the lifecycle state of a task within one run
type TaskState string

const (
	StatePending        TaskState = "pending"
	StateRunning        TaskState = "running"
	StateSuccess        TaskState = "success"
	StateFailed         TaskState = "failed"
	StateSkipped        TaskState = "skipped"
	StateUpstreamFailed TaskState = "upstream_failed"
)

// Finished reports whether the state is terminal
func (s TaskState) Finished() bool {
	switch s {
	case StateSuccess, StateFailed, StateSkipped, StateUpstreamFailed:
		return true
	default:
		return false
	}
}

// RunState is the overall state of a run
type RunState string

const (
	RunRunning RunState = "running"
	RunSuccess RunState = "success"
	RunFailed  RunState = "failed"
)

// RunInfo identifies one execution of a graph
type RunInfo struct {
	RunID       uuid.UUID
	DAGID       string
	LogicalDate time.Time
	StartedAt   time.Time
}

// TaskOutcome is what the executor reports for each task
type TaskOutcome struct {
	TaskID     string
	State      TaskState
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
	Output     any

	// Followed holds the branch selection of a successful branch task
	Followed []string
}

// Duration is zero for tasks that never ran
func (o TaskOutcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// RunSummary is the final record of one run
type RunSummary struct {
	RunInfo
	FinishedAt time.Time
	State      RunState
	Tasks      []TaskOutcome
}

// Task returns the outcome of the named task
func (s *RunSummary) Task(id string) (TaskOutcome, bool) {
	for _, outcome := range s.Tasks {
		if outcome.TaskID == id {
			return outcome, true
		}
	}
	return TaskOutcome{}, false
}

// Ran reports whether the named task was executed at least once
func (s *RunSummary) Ran(id string) bool {
	outcome, ok := s.Task(id)
	return ok && outcome.Attempts > 0
}
