// Package bootstrap assembles the application from its configuration
package bootstrap

import (
	"context"
	"fmt"
	"time"

	compression "github.com/deploymenttheory/go-model-retrain/internal/common/compressionutil"
	"github.com/deploymenttheory/go-model-retrain/internal/common/cryptoutil"
	"github.com/deploymenttheory/go-model-retrain/internal/config"
	"github.com/deploymenttheory/go-model-retrain/internal/dag"
	"github.com/deploymenttheory/go-model-retrain/internal/history"
	"github.com/deploymenttheory/go-model-retrain/internal/logger"
	"github.com/deploymenttheory/go-model-retrain/internal/metrics"
	"github.com/deploymenttheory/go-model-retrain/internal/pipeline"
	"github.com/deploymenttheory/go-model-retrain/internal/storage"
	"github.com/deploymenttheory/go-model-retrain/internal/telegram"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App holds every long-lived component
type App struct {
	Config   config.AppConfig
	Pipeline *pipeline.Pipeline
	Executor *dag.Executor
	History  *history.Store
	Registry *prometheus.Registry
	Store    storage.ObjectStore
}

// New builds the application. Close releases the history database.
func New(cfg config.AppConfig) (*App, error) {
	format, err := compression.ParseFormat(cfg.Model.Compression)
	if err != nil {
		return nil, err
	}
	hasher, err := cryptoutil.NewHasher(cryptoutil.HashAlgorithm(cfg.Model.HashAlgorithm))
	if err != nil {
		return nil, err
	}

	store, err := storage.New(storage.Config{
		Provider:        cfg.Storage.Provider,
		LocalDir:        cfg.Storage.LocalDir,
		Bucket:          cfg.Storage.S3.Bucket,
		Endpoint:        cfg.Storage.S3.Endpoint,
		Region:          cfg.Storage.S3.Region,
		AccessKeyID:     cfg.Storage.S3.AccessKey,
		SecretAccessKey: cfg.Storage.S3.SecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}

	// Without a token the notifier has no sender and every notification fails
	var sender pipeline.MessageSender
	if cfg.Telegram.Token != "" {
		client, err := telegram.NewClient(telegram.Config{
			Token:   cfg.Telegram.Token,
			APIURL:  cfg.Telegram.APIURL,
			Timeout: cfg.Telegram.Timeout,
		})
		if err != nil {
			return nil, err
		}
		sender = client
	} else {
		logger.LogWarn("Telegram token not configured, deployment notifications will fail", nil)
	}

	pipe, err := pipeline.New(
		pipeline.Config{ModelVersion: cfg.Model.Version},
		pipeline.NewLocalTrainer(cfg.Model.WorkDir, format, hasher),
		pipeline.NewLocalEvaluator(cfg.Model.EvalSeed),
		pipeline.NewObjectStoreDeployer(store, cfg.Storage.Prefix),
		pipeline.NewTelegramNotifier(sender, cfg.Telegram.ChatID),
	)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsReporter, err := metrics.NewReporter(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	historyStore, err := history.Open(history.Config{Driver: cfg.History.Driver, DSN: cfg.History.DSN})
	if err != nil {
		return nil, err
	}

	executor := dag.NewExecutor(
		dag.WithReporter(dag.MultiReporter{dag.LogReporter{}, historyStore, metricsReporter}),
		dag.WithRetries(cfg.DAG.Retries, cfg.DAG.RetryDelay),
	)

	logger.LogDebug("Application assembled", map[string]interface{}{
		"dag":           cfg.DAG.ID,
		"model_version": pipe.ModelVersion(),
		"storage":       cfg.Storage.Provider,
		"history":       cfg.History.Driver,
	})

	return &App{
		Config:   cfg,
		Pipeline: pipe,
		Executor: executor,
		History:  historyStore,
		Registry: registry,
		Store:    store,
	}, nil
}

// Graph builds a fresh graph with the pipeline's tasks
func (a *App) Graph() (*dag.Graph, error) {
	g := dag.NewGraph(a.Config.DAG.ID)
	g.Description = a.Config.DAG.Description
	g.Owner = a.Config.DAG.Owner
	g.Tags = append([]string(nil), a.Config.DAG.Tags...)

	if err := a.Pipeline.Register(g); err != nil {
		return nil, err
	}
	return g, nil
}

// RunOnce executes the workflow for one logical date
func (a *App) RunOnce(ctx context.Context, logicalDate time.Time) (*pipeline.Report, error) {
	g, err := a.Graph()
	if err != nil {
		return nil, err
	}

	summary, err := a.Executor.Run(ctx, g, logicalDate)
	if err != nil {
		return nil, err
	}
	return pipeline.ReportFromSummary(summary), nil
}

// Run adapts RunOnce to the scheduler
func (a *App) Run(ctx context.Context, logicalDate time.Time) error {
	report, err := a.RunOnce(ctx, logicalDate)
	if err != nil {
		return err
	}
	if !report.Succeeded() {
		return fmt.Errorf("run %s finished in state %s", report.RunID, report.State)
	}
	return nil
}

func (a *App) Close() error {
	return a.History.Close()
}
