package dag

import (
	"context"
	"fmt"
	"slices"
	"time"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/deploymenttheory/go-model-retrain/internal/logger"
	"github.com/google/uuid"
)

// Executor runs a graph one task at a time
type Executor struct {
	reporter       Reporter
	defaultRetries int
	retryDelay     time.Duration
	now            func() time.Time
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithReporter sets where outcomes are reported
func WithReporter(r Reporter) ExecutorOption {
	return func(e *Executor) { e.reporter = r }
}

// WithRetries sets the retry policy applied to tasks that don't set their own
func WithRetries(retries int, delay time.Duration) ExecutorOption {
	return func(e *Executor) {
		if retries >= 0 {
			e.defaultRetries = retries
		}
		if delay >= 0 {
			e.retryDelay = delay
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an executor with no retries and a logging reporter
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		reporter: LogReporter{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the graph once. Task failures are recorded in the summary;
// the returned error is only set when the graph itself is invalid.
func (e *Executor) Run(ctx context.Context, g *Graph, logicalDate time.Time) (*RunSummary, error) {
	if errs := g.Validate(); len(errs) > 0 {
		for _, err := range errs {
			logger.LogError("DAG validation error", err, map[string]interface{}{"dag": g.ID})
		}
		return nil, fmt.Errorf("dag '%s' validation failed with %d errors: %w", g.ID, len(errs), errs[0])
	}

	// Reporting continues even if the run's context is cancelled
	reportCtx := context.WithoutCancel(ctx)

	info := RunInfo{
		RunID:       uuid.New(),
		DAGID:       g.ID,
		LogicalDate: logicalDate,
		StartedAt:   e.now(),
	}
	e.reporter.RunStarted(reportCtx, info)

	outputs := newOutputStore()
	states := make(map[string]TaskState, len(g.order))
	notFollowed := make(map[string]bool)
	summary := &RunSummary{RunInfo: info, State: RunSuccess}

	for i, id := range g.order {
		task := g.tasks[id]
		logger.LogDebug(fmt.Sprintf("Evaluating task %d/%d: %s", i+1, len(g.order), id), map[string]interface{}{
			"description": task.Description,
		})

		var outcome TaskOutcome
		if state, run := triggerState(states, task, notFollowed[id]); !run {
			outcome = TaskOutcome{TaskID: id, State: state}
		} else {
			outcome = e.runTask(ctx, info, task, outputs)
			if outcome.State == StateSuccess && task.Branch {
				outcome = e.resolveBranch(g, task, outcome, notFollowed)
			}
			if outcome.State == StateSuccess {
				outputs.set(id, outcome.Output)
			}
		}

		states[id] = outcome.State
		if outcome.State == StateFailed || outcome.State == StateUpstreamFailed {
			summary.State = RunFailed
		}
		summary.Tasks = append(summary.Tasks, outcome)
		e.reporter.TaskFinished(reportCtx, info, outcome)
	}

	summary.FinishedAt = e.now()
	e.reporter.RunFinished(reportCtx, summary)
	return summary, nil
}

func (e *Executor) runTask(ctx context.Context, info RunInfo, task *Task, outputs *outputStore) TaskOutcome {
	retries := task.Retries
	if retries < 0 {
		retries = e.defaultRetries
	}

	outcome := TaskOutcome{TaskID: task.ID, StartedAt: e.now()}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			outcome.State, outcome.Err = StateFailed, err
			break
		}

		outcome.Attempts = attempt
		tc := &TaskContext{Run: info, TaskID: task.ID, Attempt: attempt, outputs: outputs}
		output, err := callTask(ctx, task, tc)
		if err == nil {
			outcome.State, outcome.Output, outcome.Err = StateSuccess, output, nil
			break
		}
		outcome.Err = err

		if attempt > retries {
			outcome.State = StateFailed
			break
		}

		logger.LogWarn("Task failed, retrying", map[string]interface{}{
			"task":    task.ID,
			"attempt": attempt,
			"retries": retries,
			"delay":   e.retryDelay.String(),
			"error":   err.Error(),
		})
		if !sleepContext(ctx, e.retryDelay) {
			outcome.State = StateFailed
			break
		}
	}

	outcome.FinishedAt = e.now()
	return outcome
}

// resolveBranch turns a branch task's Branch output into skip marks for the
// direct downstream tasks it did not select
func (e *Executor) resolveBranch(g *Graph, task *Task, outcome TaskOutcome, notFollowed map[string]bool) TaskOutcome {
	var branch Branch
	switch v := outcome.Output.(type) {
	case Branch:
		branch = v
	case *Branch:
		if v != nil {
			branch = *v
		}
	default:
		outcome.State = StateFailed
		outcome.Err = fmt.Errorf("%w: branch task '%s' returned %T", errors.ErrInvalidBranch, task.ID, outcome.Output)
		return outcome
	}

	downstream := g.downstream[task.ID]
	for _, target := range branch.Follow {
		if !slices.Contains(downstream, target) {
			outcome.State = StateFailed
			outcome.Err = fmt.Errorf("%w: '%s' is not a direct downstream task of '%s'", errors.ErrInvalidBranch, target, task.ID)
			return outcome
		}
	}

	for _, d := range downstream {
		if !slices.Contains(branch.Follow, d) {
			notFollowed[d] = true
		}
	}
	outcome.Output = branch.Value
	outcome.Followed = append([]string(nil), branch.Follow...)
	return outcome
}

// callTask runs the task function, converting a panic into a task error
func callTask(ctx context.Context, task *Task, tc *TaskContext) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task '%s' panicked: %v", task.ID, r)
		}
	}()
	return task.Run(ctx, tc)
}

// triggerState applies the task's trigger rule to its upstream states. It
// reports whether the task should run, or the state it ends in otherwise.
func triggerState(states map[string]TaskState, task *Task, notFollowed bool) (TaskState, bool) {
	if upstreamIn(states, task, StateFailed, StateUpstreamFailed) {
		return StateUpstreamFailed, false
	}
	if notFollowed {
		return StateSkipped, false
	}
	if task.TriggerRule == TriggerNoneFailedMinOneSuccess {
		if len(task.Upstream) == 0 || upstreamIn(states, task, StateSuccess) {
			return StatePending, true
		}
		return StateSkipped, false
	}
	if upstreamIn(states, task, StateSkipped) {
		return StateSkipped, false
	}
	return StatePending, true
}

func upstreamIn(states map[string]TaskState, task *Task, wanted ...TaskState) bool {
	for _, up := range task.Upstream {
		if slices.Contains(wanted, states[up]) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
