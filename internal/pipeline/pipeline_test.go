package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/deploymenttheory/go-model-retrain/internal/dag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrainer struct {
	err   error
	calls int
}

func (f *fakeTrainer) Train(_ context.Context, version string) (TrainingResult, error) {
	f.calls++
	if f.err != nil {
		return TrainingResult{}, f.err
	}
	return TrainingResult{Version: version, ArtifactPath: "/tmp/model.tar.xz", Checksum: "sha256:abc"}, nil
}

type fakeEvaluator struct {
	metrics Metrics
	err     error
	calls   int
}

func (f *fakeEvaluator) Evaluate(context.Context, TrainingResult) (Metrics, error) {
	f.calls++
	return f.metrics, f.err
}

type fakeDeployer struct {
	err   error
	calls int
}

func (f *fakeDeployer) Deploy(_ context.Context, result TrainingResult, metrics Metrics) (DeploymentRecord, error) {
	f.calls++
	if f.err != nil {
		return DeploymentRecord{}, f.err
	}
	return DeploymentRecord{
		Version:    result.Version,
		Location:   "file:///models/" + result.Version,
		Checksum:   result.Checksum,
		Metrics:    metrics,
		DeployedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

type fakeSender struct {
	mu    sync.Mutex
	err   error
	texts []string
}

func (f *fakeSender) SendMessage(_ context.Context, _, text, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.err
}

type fixture struct {
	trainer   *fakeTrainer
	evaluator *fakeEvaluator
	deployer  *fakeDeployer
	sender    *fakeSender
}

func newFixture(accuracy float64) *fixture {
	return &fixture{
		trainer:   &fakeTrainer{},
		evaluator: &fakeEvaluator{metrics: Metrics{Accuracy: accuracy, Precision: 0.8, Recall: 0.78, F1: 0.7899}},
		deployer:  &fakeDeployer{},
		sender:    &fakeSender{},
	}
}

func (f *fixture) run(t *testing.T) *Report {
	t.Helper()
	p, err := New(Config{ModelVersion: "v2.0.0"}, f.trainer, f.evaluator, f.deployer, NewTelegramNotifier(f.sender, "42"))
	require.NoError(t, err)

	g := dag.NewGraph("ml_retrain_pipeline")
	require.NoError(t, p.Register(g))

	summary, err := dag.NewExecutor().Run(context.Background(), g, time.Now())
	require.NoError(t, err)
	return ReportFromSummary(summary)
}

func TestRegisterBuildsWorkflow(t *testing.T) {
	f := newFixture(0.9)
	p, err := New(Config{}, f.trainer, f.evaluator, f.deployer, NewTelegramNotifier(f.sender, "42"))
	require.NoError(t, err)
	assert.Equal(t, DefaultModelVersion, p.ModelVersion())

	g := dag.NewGraph("ml_retrain_pipeline")
	require.NoError(t, p.Register(g))
	assert.Equal(t, []string{TaskTrain, TaskEval, TaskGate, TaskDeploy, TaskNotify, TaskSkip, TaskJoin}, g.TaskIDs())
	assert.ElementsMatch(t, []string{TaskDeploy, TaskSkip}, g.Downstream(TaskGate))
	assert.Empty(t, g.Validate())

	gate, ok := g.Task(TaskGate)
	require.True(t, ok)
	assert.True(t, gate.Branch)

	join, ok := g.Task(TaskJoin)
	require.True(t, ok)
	assert.Equal(t, []string{TaskNotify, TaskSkip}, join.Upstream)
	assert.Equal(t, dag.TriggerNoneFailedMinOneSuccess, join.TriggerRule)

	// registering twice on the same host fails on the first duplicate
	assert.ErrorIs(t, p.Register(g), errors.ErrDuplicateTask)
}

func TestNewRequiresAllSteps(t *testing.T) {
	f := newFixture(0.9)
	_, err := New(Config{}, f.trainer, f.evaluator, nil, NewTelegramNotifier(f.sender, "42"))
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestHighAccuracyDeploysAndNotifies(t *testing.T) {
	f := newFixture(0.82)
	report := f.run(t)

	assert.Equal(t, dag.RunSuccess, report.State)
	assert.Equal(t, Proceed, report.Decision)
	require.NotNil(t, report.Deployment)
	assert.Equal(t, "v2.0.0", report.Deployment.Version)
	require.NotNil(t, report.Notification)
	assert.Contains(t, report.Notification.Text, "*[DEPLOY] Model v2.0.0*")
	assert.Contains(t, report.Notification.Text, "Accuracy: `0.82`")
	assert.Nil(t, report.Skip)
	assert.Empty(t, report.Errors)

	assert.True(t, report.Summary.Ran(TaskDeploy))
	assert.True(t, report.Summary.Ran(TaskNotify))
	assert.False(t, report.Summary.Ran(TaskSkip))
	skip, _ := report.Summary.Task(TaskSkip)
	assert.Equal(t, dag.StateSkipped, skip.State)
	assert.True(t, report.Summary.Ran(TaskJoin))
}

func TestLowAccuracySkips(t *testing.T) {
	f := newFixture(0.75)
	report := f.run(t)

	assert.Equal(t, dag.RunSuccess, report.State)
	assert.Equal(t, Skip, report.Decision)
	require.NotNil(t, report.Skip)
	assert.Equal(t, SkipReasonBelowThreshold, report.Skip.Reason)
	assert.Equal(t, 0.75, report.Skip.Accuracy)
	assert.Equal(t, AccuracyThreshold, report.Skip.Threshold)

	assert.Zero(t, f.deployer.calls)
	assert.Empty(t, f.sender.texts)
	assert.Nil(t, report.Deployment)
	assert.Nil(t, report.Notification)

	for _, id := range []string{TaskDeploy, TaskNotify} {
		outcome, ok := report.Summary.Task(id)
		require.True(t, ok)
		assert.Equal(t, dag.StateSkipped, outcome.State, id)
	}
	join, _ := report.Summary.Task(TaskJoin)
	assert.Equal(t, dag.StateSuccess, join.State)
}

func TestThresholdAccuracyDeploys(t *testing.T) {
	f := newFixture(0.8)
	report := f.run(t)

	assert.Equal(t, Proceed, report.Decision)
	assert.Equal(t, 1, f.deployer.calls)
	assert.Len(t, f.sender.texts, 1)
}

func TestExactlyOneBranchRuns(t *testing.T) {
	for _, accuracy := range []float64{0.5, 0.7999, 0.8, 0.8001, 0.99} {
		f := newFixture(accuracy)
		report := f.run(t)

		deployed := report.Summary.Ran(TaskDeploy)
		skipped := report.Summary.Ran(TaskSkip)
		assert.True(t, deployed != skipped, "accuracy %v", accuracy)
		assert.Equal(t, deployed, report.Summary.Ran(TaskNotify), "accuracy %v", accuracy)
	}
}

func TestTrainingFailureStopsEverything(t *testing.T) {
	f := newFixture(0.9)
	f.trainer.err = fmt.Errorf("%w: out of memory", errors.ErrTraining)
	report := f.run(t)

	assert.Equal(t, dag.RunFailed, report.State)
	assert.Zero(t, f.evaluator.calls)
	assert.Zero(t, f.deployer.calls)
	assert.Empty(t, f.sender.texts)
	assert.Equal(t, DecisionUnknown, report.Decision)

	for _, id := range []string{TaskEval, TaskGate, TaskDeploy, TaskNotify, TaskSkip, TaskJoin} {
		assert.False(t, report.Summary.Ran(id), id)
	}
	require.Len(t, report.Errors, 1)
	assert.Equal(t, TaskTrain, report.Errors[0].TaskID)

	train, _ := report.Summary.Task(TaskTrain)
	assert.ErrorIs(t, train.Err, errors.ErrTraining)
}

func TestEvaluationFailureRunsNeitherBranch(t *testing.T) {
	f := newFixture(0.9)
	f.evaluator.err = fmt.Errorf("%w: dataset missing", errors.ErrEvaluation)
	report := f.run(t)

	assert.Equal(t, dag.RunFailed, report.State)
	assert.False(t, report.Summary.Ran(TaskGate))
	assert.False(t, report.Summary.Ran(TaskDeploy))
	assert.False(t, report.Summary.Ran(TaskSkip))
	assert.Nil(t, report.Metrics)
}

func TestInvalidMetricsFailEvaluation(t *testing.T) {
	f := newFixture(1.5)
	report := f.run(t)

	eval, _ := report.Summary.Task(TaskEval)
	assert.Equal(t, dag.StateFailed, eval.State)
	assert.ErrorIs(t, eval.Err, errors.ErrEvaluation)
	assert.ErrorIs(t, eval.Err, errors.ErrInvalidMetrics)
	assert.False(t, report.Summary.Ran(TaskGate))
}

func TestDeploymentFailureKeepsDecision(t *testing.T) {
	f := newFixture(0.9)
	f.deployer.err = fmt.Errorf("%w: bucket unavailable", errors.ErrDeployment)
	report := f.run(t)

	assert.Equal(t, dag.RunFailed, report.State)
	assert.Equal(t, Proceed, report.Decision)
	assert.Empty(t, f.sender.texts)
	assert.False(t, report.Summary.Ran(TaskNotify))
	assert.False(t, report.Summary.Ran(TaskSkip))

	notify, _ := report.Summary.Task(TaskNotify)
	assert.Equal(t, dag.StateUpstreamFailed, notify.State)
	join, _ := report.Summary.Task(TaskJoin)
	assert.Equal(t, dag.StateUpstreamFailed, join.State)
}

func TestNotificationFailureKeepsDeployment(t *testing.T) {
	f := newFixture(0.9)
	f.sender.err = fmt.Errorf("connection refused")
	report := f.run(t)

	assert.Equal(t, dag.RunFailed, report.State)
	deploy, _ := report.Summary.Task(TaskDeploy)
	assert.Equal(t, dag.StateSuccess, deploy.State)
	require.NotNil(t, report.Deployment)

	notify, _ := report.Summary.Task(TaskNotify)
	assert.Equal(t, dag.StateFailed, notify.State)
	assert.ErrorIs(t, notify.Err, errors.ErrNotification)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, TaskNotify, report.Errors[0].TaskID)
}

func TestMissingTelegramCredentialsFailNotification(t *testing.T) {
	f := newFixture(0.9)
	p, err := New(Config{}, f.trainer, f.evaluator, f.deployer, NewTelegramNotifier(nil, ""))
	require.NoError(t, err)

	g := dag.NewGraph("ml_retrain_pipeline")
	require.NoError(t, p.Register(g))
	summary, err := dag.NewExecutor().Run(context.Background(), g, time.Now())
	require.NoError(t, err)

	notify, _ := summary.Task(TaskNotify)
	assert.ErrorIs(t, notify.Err, errors.ErrNotification)
	assert.ErrorIs(t, notify.Err, errors.ErrNotConfigured)
	deploy, _ := summary.Task(TaskDeploy)
	assert.Equal(t, dag.StateSuccess, deploy.State)
}

func TestRetriedNotificationSucceeds(t *testing.T) {
	f := newFixture(0.9)
	flaky := &flakySender{failures: 1}
	p, err := New(Config{}, f.trainer, f.evaluator, f.deployer, NewTelegramNotifier(flaky, "42"))
	require.NoError(t, err)

	g := dag.NewGraph("ml_retrain_pipeline")
	require.NoError(t, p.Register(g))
	summary, err := dag.NewExecutor(dag.WithRetries(1, 0)).Run(context.Background(), g, time.Now())
	require.NoError(t, err)

	assert.Equal(t, dag.RunSuccess, summary.State)
	notify, _ := summary.Task(TaskNotify)
	assert.Equal(t, 2, notify.Attempts)
	assert.Equal(t, 1, f.deployer.calls)
}

type flakySender struct {
	failures int
}

func (f *flakySender) SendMessage(context.Context, string, string, string) error {
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("temporary failure")
	}
	return nil
}

// plainNotifier fails without tagging the error as a notification failure
type plainNotifier struct{}

func (plainNotifier) Notify(context.Context, DeploymentRecord) (NotificationMessage, error) {
	return NotificationMessage{}, fmt.Errorf("chat not found")
}

func TestStepErrorsCarryTheirKind(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(f *fixture)
		notify Notifier
		task   string
		kind   error
	}{
		{name: "train", setup: func(f *fixture) { f.trainer.err = fmt.Errorf("CUDA out of memory") }, task: TaskTrain, kind: errors.ErrTraining},
		{name: "evaluate", setup: func(f *fixture) { f.evaluator.err = fmt.Errorf("dataset unreachable") }, task: TaskEval, kind: errors.ErrEvaluation},
		{name: "deploy", setup: func(f *fixture) { f.deployer.err = fmt.Errorf("bucket 403") }, task: TaskDeploy, kind: errors.ErrDeployment},
		{name: "notify", setup: func(*fixture) {}, notify: plainNotifier{}, task: TaskNotify, kind: errors.ErrNotification},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(0.9)
			tc.setup(f)
			notifier := tc.notify
			if notifier == nil {
				notifier = NewTelegramNotifier(f.sender, "42")
			}

			p, err := New(Config{}, f.trainer, f.evaluator, f.deployer, notifier)
			require.NoError(t, err)
			g := dag.NewGraph("ml_retrain_pipeline")
			require.NoError(t, p.Register(g))
			summary, err := dag.NewExecutor().Run(context.Background(), g, time.Now())
			require.NoError(t, err)

			assert.Equal(t, dag.RunFailed, summary.State)
			outcome, _ := summary.Task(tc.task)
			assert.Equal(t, dag.StateFailed, outcome.State)
			assert.ErrorIs(t, outcome.Err, tc.kind)
		})
	}
}

func TestStepErrorKindNotDuplicated(t *testing.T) {
	err := asStepError(errors.ErrDeployment, fmt.Errorf("%w: bucket unavailable", errors.ErrDeployment))
	assert.Equal(t, "deployment failed: bucket unavailable", err.Error())

	err = asStepError(errors.ErrTraining, fmt.Errorf("disk full"))
	assert.Equal(t, "training failed: disk full", err.Error())
}
