package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/deploymenttheory/go-model-retrain/internal/dag"
	"github.com/deploymenttheory/go-model-retrain/internal/logger"
)

// Task identifiers
const (
	TaskTrain  = "train_model"
	TaskEval   = "evaluate_model"
	TaskGate   = "check_metrics"
	TaskDeploy = "deploy_model"
	TaskNotify = "send_telegram_notification"
	TaskSkip   = "skip_deploy"
	TaskJoin   = "join"
)

// SkipReasonBelowThreshold is recorded when the gate skips deployment
const SkipReasonBelowThreshold = "metrics_below_threshold"

// DefaultModelVersion is used when no version is configured
const DefaultModelVersion = "v1.0.0"

// Config holds the per-pipeline settings
type Config struct {
	ModelVersion string
}

// Pipeline defines the retrain workflow:
// train -> evaluate -> gate -> (deploy -> notify | skip) -> join
type Pipeline struct {
	config    Config
	trainer   Trainer
	evaluator Evaluator
	deployer  Deployer
	notifier  Notifier
}

// New creates a pipeline from its step implementations
func New(config Config, trainer Trainer, evaluator Evaluator, deployer Deployer, notifier Notifier) (*Pipeline, error) {
	if trainer == nil || evaluator == nil || deployer == nil || notifier == nil {
		return nil, fmt.Errorf("%w: all pipeline steps are required", errors.ErrInvalidArgument)
	}
	if config.ModelVersion == "" {
		config.ModelVersion = DefaultModelVersion
	}
	return &Pipeline{
		config:    config,
		trainer:   trainer,
		evaluator: evaluator,
		deployer:  deployer,
		notifier:  notifier,
	}, nil
}

// ModelVersion returns the version label the pipeline trains
func (p *Pipeline) ModelVersion() string {
	return p.config.ModelVersion
}

// Register adds the workflow's tasks to a host
func (p *Pipeline) Register(host dag.Host) error {
	tasks := []dag.Task{
		{
			ID:          TaskTrain,
			Description: "Train the model and package the artifact",
			Retries:     dag.InheritRetries,
			Run:         p.train,
		},
		{
			ID:          TaskEval,
			Description: "Compute evaluation metrics for the trained artifact",
			Upstream:    []string{TaskTrain},
			Retries:     dag.InheritRetries,
			Run:         p.evaluate,
		},
		{
			ID:          TaskGate,
			Description: "Choose deployment or skip by the accuracy threshold",
			Upstream:    []string{TaskEval},
			Branch:      true,
			Retries:     dag.InheritRetries,
			Run:         p.gate,
		},
		{
			ID:          TaskDeploy,
			Description: "Publish the artifact to the serving location",
			Upstream:    []string{TaskGate},
			Retries:     dag.InheritRetries,
			Run:         p.deploy,
		},
		{
			ID:          TaskNotify,
			Description: "Announce the deployment in Telegram",
			Upstream:    []string{TaskDeploy},
			Retries:     dag.InheritRetries,
			Run:         p.notify,
		},
		{
			ID:          TaskSkip,
			Description: "Record that deployment was skipped",
			Upstream:    []string{TaskGate},
			Retries:     dag.InheritRetries,
			Run:         p.skip,
		},
		{
			ID:          TaskJoin,
			Description: "Close the run once either path has finished",
			Upstream:    []string{TaskNotify, TaskSkip},
			TriggerRule: dag.TriggerNoneFailedMinOneSuccess,
			Retries:     dag.InheritRetries,
			Run:         join,
		},
	}

	for _, task := range tasks {
		if err := host.Register(task); err != nil {
			return fmt.Errorf("failed to register task '%s': %w", task.ID, err)
		}
	}
	return nil
}

func (p *Pipeline) train(ctx context.Context, tc *dag.TaskContext) (any, error) {
	logger.LogInfo("Training model", map[string]interface{}{
		"version": p.config.ModelVersion,
		"attempt": tc.Attempt,
	})
	result, err := p.trainer.Train(ctx, p.config.ModelVersion)
	if err != nil {
		return nil, asStepError(errors.ErrTraining, err)
	}
	return result, nil
}

func (p *Pipeline) evaluate(ctx context.Context, tc *dag.TaskContext) (any, error) {
	result, err := dag.PullAs[TrainingResult](tc, TaskTrain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrEvaluation, err)
	}

	metrics, err := p.evaluator.Evaluate(ctx, result)
	if err != nil {
		return nil, asStepError(errors.ErrEvaluation, err)
	}
	if err := metrics.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrEvaluation, err)
	}

	logger.LogInfo("Evaluation metrics", map[string]interface{}{
		"version":   result.Version,
		"accuracy":  metrics.Accuracy,
		"precision": metrics.Precision,
		"recall":    metrics.Recall,
		"f1_score":  metrics.F1,
	})
	return metrics, nil
}

func (p *Pipeline) gate(_ context.Context, tc *dag.TaskContext) (any, error) {
	metrics, err := dag.PullAs[Metrics](tc, TaskEval)
	if err != nil {
		return nil, err
	}

	machine := NewGateMachine()
	if err := machine.Evaluated(metrics); err != nil {
		return nil, err
	}
	decision, err := machine.Decide()
	if err != nil {
		return nil, err
	}

	outcome := GateOutcome{Decision: decision, Accuracy: metrics.Accuracy, Threshold: AccuracyThreshold}
	fields := map[string]interface{}{
		"accuracy":  metrics.Accuracy,
		"threshold": AccuracyThreshold,
		"decision":  decision.String(),
	}

	switch decision {
	case Proceed:
		logger.LogInfo("Metrics meet threshold, deploying", fields)
		return dag.Branch{Follow: []string{TaskDeploy}, Value: outcome}, nil
	case Skip:
		logger.LogInfo("Metrics below threshold, skipping deployment", fields)
		return dag.Branch{Follow: []string{TaskSkip}, Value: outcome}, nil
	default:
		return nil, fmt.Errorf("%w: gate produced %s", errors.ErrInvalidGateTransition, decision)
	}
}

func (p *Pipeline) deploy(ctx context.Context, tc *dag.TaskContext) (any, error) {
	result, err := dag.PullAs[TrainingResult](tc, TaskTrain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrDeployment, err)
	}
	metrics, err := dag.PullAs[Metrics](tc, TaskEval)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrDeployment, err)
	}
	record, err := p.deployer.Deploy(ctx, result, metrics)
	if err != nil {
		return nil, asStepError(errors.ErrDeployment, err)
	}
	return record, nil
}

func (p *Pipeline) notify(ctx context.Context, tc *dag.TaskContext) (any, error) {
	record, err := dag.PullAs[DeploymentRecord](tc, TaskDeploy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrNotification, err)
	}
	message, err := p.notifier.Notify(ctx, record)
	if err != nil {
		return nil, asStepError(errors.ErrNotification, err)
	}
	return message, nil
}

func (p *Pipeline) skip(_ context.Context, tc *dag.TaskContext) (any, error) {
	outcome, err := dag.PullAs[GateOutcome](tc, TaskGate)
	if err != nil {
		return nil, err
	}

	record := SkipRecord{
		Reason:    SkipReasonBelowThreshold,
		Accuracy:  outcome.Accuracy,
		Threshold: outcome.Threshold,
	}
	logger.LogWarn("Deployment skipped", map[string]interface{}{
		"reason":    record.Reason,
		"accuracy":  record.Accuracy,
		"threshold": record.Threshold,
	})
	return record, nil
}

func join(context.Context, *dag.TaskContext) (any, error) {
	return nil, nil
}

// asStepError tags err with the step's error kind unless it already carries it
func asStepError(kind, err error) error {
	if stderrors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
