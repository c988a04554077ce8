package dag

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingReporter keeps every event for assertions
type recordingReporter struct {
	mu       sync.Mutex
	started  []RunInfo
	tasks    []TaskOutcome
	finished []*RunSummary
}

func (r *recordingReporter) RunStarted(_ context.Context, run RunInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, run)
}

func (r *recordingReporter) TaskFinished(_ context.Context, _ RunInfo, outcome TaskOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, outcome)
}

func (r *recordingReporter) RunFinished(_ context.Context, summary *RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, summary)
}

func value(v any) TaskFunc {
	return func(context.Context, *TaskContext) (any, error) { return v, nil }
}

func failing(err error) TaskFunc {
	return func(context.Context, *TaskContext) (any, error) { return nil, err }
}

// branchGraph builds start -> choose -> {left -> after_left} | {right}
func branchGraph(t *testing.T, follow string) *Graph {
	t.Helper()
	g := NewGraph("branching")
	require.NoError(t, g.Register(Task{ID: "start", Run: value(1)}))
	require.NoError(t, g.Register(Task{ID: "choose", Upstream: []string{"start"}, Branch: true,
		Run: func(ctx context.Context, tc *TaskContext) (any, error) {
			return Branch{Follow: []string{follow}, Value: follow}, nil
		}}))
	require.NoError(t, g.Register(Task{ID: "left", Upstream: []string{"choose"}, Run: value("l")}))
	require.NoError(t, g.Register(Task{ID: "after_left", Upstream: []string{"left"}, Run: value("al")}))
	require.NoError(t, g.Register(Task{ID: "right", Upstream: []string{"choose"}, Run: value("r")}))
	return g
}

func states(summary *RunSummary) map[string]TaskState {
	out := make(map[string]TaskState)
	for _, o := range summary.Tasks {
		out[o.TaskID] = o.State
	}
	return out
}

func TestRunLinearChainPassesOutputs(t *testing.T) {
	g := NewGraph("chain")
	require.NoError(t, g.Register(Task{ID: "a", Run: value(21)}))
	require.NoError(t, g.Register(Task{ID: "b", Upstream: []string{"a"}, Run: func(ctx context.Context, tc *TaskContext) (any, error) {
		n, err := PullAs[int](tc, "a")
		if err != nil {
			return nil, err
		}
		return n * 2, nil
	}}))

	reporter := &recordingReporter{}
	summary, err := NewExecutor(WithReporter(reporter)).Run(context.Background(), g, time.Now())
	require.NoError(t, err)

	assert.Equal(t, RunSuccess, summary.State)
	b, ok := summary.Task("b")
	require.True(t, ok)
	assert.Equal(t, 42, b.Output)

	assert.Len(t, reporter.started, 1)
	assert.Len(t, reporter.tasks, 2)
	require.Len(t, reporter.finished, 1)
	assert.Equal(t, summary.RunID, reporter.started[0].RunID)
}

func TestBranchSkipsUnselectedPath(t *testing.T) {
	summary, err := NewExecutor().Run(context.Background(), branchGraph(t, "left"), time.Now())
	require.NoError(t, err)

	assert.Equal(t, RunSuccess, summary.State)
	assert.Equal(t, map[string]TaskState{
		"start":      StateSuccess,
		"choose":     StateSuccess,
		"left":       StateSuccess,
		"after_left": StateSuccess,
		"right":      StateSkipped,
	}, states(summary))

	choose, _ := summary.Task("choose")
	assert.Equal(t, []string{"left"}, choose.Followed)
	assert.Equal(t, "left", choose.Output)
}

func TestBranchSkipPropagatesToDescendants(t *testing.T) {
	summary, err := NewExecutor().Run(context.Background(), branchGraph(t, "right"), time.Now())
	require.NoError(t, err)

	st := states(summary)
	assert.Equal(t, StateSkipped, st["left"])
	assert.Equal(t, StateSkipped, st["after_left"])
	assert.Equal(t, StateSuccess, st["right"])
	assert.False(t, summary.Ran("left"))
	assert.True(t, summary.Ran("right"))
}

func TestBranchToNonDownstreamTaskFails(t *testing.T) {
	summary, err := NewExecutor().Run(context.Background(), branchGraph(t, "after_left"), time.Now())
	require.NoError(t, err)

	choose, _ := summary.Task("choose")
	assert.Equal(t, StateFailed, choose.State)
	assert.ErrorIs(t, choose.Err, errors.ErrInvalidBranch)
	assert.Equal(t, RunFailed, summary.State)
	assert.Equal(t, StateUpstreamFailed, states(summary)["right"])
}

func TestBranchMustReturnBranchValue(t *testing.T) {
	g := NewGraph("bad-branch")
	require.NoError(t, g.Register(Task{ID: "choose", Branch: true, Run: value("left")}))
	require.NoError(t, g.Register(Task{ID: "left", Upstream: []string{"choose"}, Run: value(nil)}))

	summary, err := NewExecutor().Run(context.Background(), g, time.Now())
	require.NoError(t, err)
	choose, _ := summary.Task("choose")
	assert.ErrorIs(t, choose.Err, errors.ErrInvalidBranch)
}

func TestFailurePropagatesUpstreamFailed(t *testing.T) {
	boom := fmt.Errorf("boom")
	summary, err := NewExecutor().Run(context.Background(), func() *Graph {
		g := NewGraph("failing")
		require.NoError(t, g.Register(Task{ID: "a", Run: failing(boom)}))
		require.NoError(t, g.Register(Task{ID: "b", Upstream: []string{"a"}, Run: value(1)}))
		require.NoError(t, g.Register(Task{ID: "c", Upstream: []string{"b"}, Run: value(2)}))
		return g
	}(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, RunFailed, summary.State)
	assert.Equal(t, map[string]TaskState{
		"a": StateFailed,
		"b": StateUpstreamFailed,
		"c": StateUpstreamFailed,
	}, states(summary))
	a, _ := summary.Task("a")
	assert.ErrorIs(t, a.Err, boom)
	assert.False(t, summary.Ran("b"))
}

func TestRetriesUseExecutorDefault(t *testing.T) {
	calls := 0
	g := NewGraph("retry")
	require.NoError(t, g.Register(Task{ID: "flaky", Retries: InheritRetries, Run: func(ctx context.Context, tc *TaskContext) (any, error) {
		calls++
		if tc.Attempt < 2 {
			return nil, fmt.Errorf("transient")
		}
		return "ok", nil
	}}))

	summary, err := NewExecutor(WithRetries(1, 0)).Run(context.Background(), g, time.Now())
	require.NoError(t, err)

	flaky, _ := summary.Task("flaky")
	assert.Equal(t, StateSuccess, flaky.State)
	assert.Equal(t, 2, flaky.Attempts)
	assert.Equal(t, 2, calls)
}

func TestTaskRetriesOverrideDefault(t *testing.T) {
	calls := 0
	g := NewGraph("no-retry")
	require.NoError(t, g.Register(Task{ID: "once", Retries: 0, Run: func(context.Context, *TaskContext) (any, error) {
		calls++
		return nil, fmt.Errorf("nope")
	}}))

	summary, err := NewExecutor(WithRetries(3, 0)).Run(context.Background(), g, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, RunFailed, summary.State)
}

func TestCancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	g := NewGraph("cancel")
	require.NoError(t, g.Register(Task{ID: "a", Retries: InheritRetries, Run: func(context.Context, *TaskContext) (any, error) {
		calls++
		cancel()
		return nil, fmt.Errorf("fail")
	}}))

	summary, err := NewExecutor(WithRetries(5, time.Hour)).Run(ctx, g, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, RunFailed, summary.State)
}

func TestPanicBecomesTaskFailure(t *testing.T) {
	g := NewGraph("panic")
	require.NoError(t, g.Register(Task{ID: "a", Run: func(context.Context, *TaskContext) (any, error) {
		panic("kaboom")
	}}))

	summary, err := NewExecutor().Run(context.Background(), g, time.Now())
	require.NoError(t, err)
	a, _ := summary.Task("a")
	assert.Equal(t, StateFailed, a.State)
	assert.Contains(t, a.Err.Error(), "kaboom")
}

func TestInvalidGraphIsRejected(t *testing.T) {
	_, err := NewExecutor().Run(context.Background(), NewGraph("empty"), time.Now())
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestPullAsTypeMismatch(t *testing.T) {
	tc := &TaskContext{outputs: newOutputStore()}
	tc.outputs.set("a", "text")

	_, err := PullAs[int](tc, "a")
	assert.ErrorIs(t, err, errors.ErrTaskOutputMissing)
	_, err = PullAs[string](tc, "missing")
	assert.ErrorIs(t, err, errors.ErrTaskOutputMissing)
}

// joinGraph builds start -> choose -> {left | right} -> join
func joinGraph(t *testing.T, follow string, left TaskFunc) *Graph {
	t.Helper()
	g := NewGraph("joining")
	require.NoError(t, g.Register(Task{ID: "start", Run: value(1)}))
	require.NoError(t, g.Register(Task{ID: "choose", Upstream: []string{"start"}, Branch: true,
		Run: func(ctx context.Context, tc *TaskContext) (any, error) {
			return Branch{Follow: []string{follow}}, nil
		}}))
	require.NoError(t, g.Register(Task{ID: "left", Upstream: []string{"choose"}, Run: left}))
	require.NoError(t, g.Register(Task{ID: "right", Upstream: []string{"choose"}, Run: value("r")}))
	require.NoError(t, g.Register(Task{ID: "join", Upstream: []string{"left", "right"},
		TriggerRule: TriggerNoneFailedMinOneSuccess, Run: value(nil)}))
	return g
}

func TestJoinRunsAfterEitherBranch(t *testing.T) {
	for _, follow := range []string{"left", "right"} {
		summary, err := NewExecutor().Run(context.Background(), joinGraph(t, follow, value("l")), time.Now())
		require.NoError(t, err)

		assert.Equal(t, RunSuccess, summary.State, follow)
		assert.Equal(t, StateSuccess, states(summary)["join"], follow)
	}
}

func TestJoinFailsWhenTheFollowedBranchFails(t *testing.T) {
	summary, err := NewExecutor().Run(context.Background(), joinGraph(t, "left", failing(fmt.Errorf("boom"))), time.Now())
	require.NoError(t, err)

	assert.Equal(t, RunFailed, summary.State)
	assert.Equal(t, StateSkipped, states(summary)["right"])
	assert.Equal(t, StateUpstreamFailed, states(summary)["join"])
}

func TestJoinSkippedWithoutAnySuccess(t *testing.T) {
	g := NewGraph("all_skipped")
	require.NoError(t, g.Register(Task{ID: "choose", Branch: true,
		Run: func(ctx context.Context, tc *TaskContext) (any, error) {
			return Branch{}, nil
		}}))
	require.NoError(t, g.Register(Task{ID: "a", Upstream: []string{"choose"}, Run: value(1)}))
	require.NoError(t, g.Register(Task{ID: "b", Upstream: []string{"choose"}, Run: value(2)}))
	require.NoError(t, g.Register(Task{ID: "join", Upstream: []string{"a", "b"},
		TriggerRule: TriggerNoneFailedMinOneSuccess, Run: value(nil)}))

	summary, err := NewExecutor().Run(context.Background(), g, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, states(summary)["join"])
	assert.False(t, summary.Ran("join"))
}
