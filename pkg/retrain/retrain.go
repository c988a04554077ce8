// Package retrain lets other Go programs run the model retraining workflow
// without going through the CLI.
package retrain

import (
	"context"
	"fmt"
	"sync"
	"time"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/deploymenttheory/go-model-retrain/internal/bootstrap"
	"github.com/deploymenttheory/go-model-retrain/internal/config"
	"github.com/deploymenttheory/go-model-retrain/internal/logger"
	"github.com/deploymenttheory/go-model-retrain/internal/pipeline"
)

// InitOptions contains options for initializing the library
type InitOptions struct {
	ConfigFile  string // Path to configuration file
	Debug       bool   // Enable debug logging
	LogFormat   string // Log format: "human" or "json"
	LogFile     string // Path to log file
	SuppressLog bool   // Suppress all logging
}

// Metrics are the evaluation scores of a run
type Metrics struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

// RunResult contains the results of one workflow run
type RunResult struct {
	RunID        string
	Success      bool     // Whether every executed step succeeded
	Deployed     bool     // Whether the model was published
	Notified     bool     // Whether the deployment announcement was sent
	Decision     string   // "proceed", "skip" or "unknown" when evaluation did not finish
	Metrics      *Metrics // Nil when evaluation did not finish
	Location     string   // Where the model was deployed
	ErrorMessage string   // Step errors, if any
}

var (
	mu          sync.Mutex
	initialized bool
)

// DefaultOptions returns the default initialization options
func DefaultOptions() InitOptions {
	return InitOptions{
		Debug:     false,
		LogFormat: "human",
	}
}

// Initialize loads the configuration and sets up logging
func Initialize(options InitOptions) error {
	mu.Lock()
	defer mu.Unlock()
	return initialize(options)
}

func initialize(options InitOptions) error {
	if initialized {
		return nil
	}

	if err := config.Initialize(options.ConfigFile); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	// Update config with provided options
	if options.Debug {
		config.Instance.Debug = true
	}
	if options.LogFormat != "" {
		config.Instance.LogFormat = options.LogFormat
	}
	if options.LogFile != "" {
		config.Instance.LogFile = options.LogFile
	}

	if !options.SuppressLog {
		if err := logger.InitLogger(logger.LoggerConfig{
			Debug:     config.Instance.Debug,
			LogFormat: config.Instance.LogFormat,
			LogFile:   config.Instance.LogFile,
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		logger.LogInfo("Retrain library initialized", map[string]interface{}{
			"config_file": config.ConfigFile,
			"debug":       config.Instance.Debug,
			"log_format":  config.Instance.LogFormat,
		})
	}

	initialized = true
	return nil
}

func ensureInitialized() error {
	if initialized {
		return nil
	}
	return initialize(DefaultOptions())
}

// SetModelVersion sets the version label used by later runs
func SetModelVersion(version string) error {
	mu.Lock()
	defer mu.Unlock()
	if err := ensureInitialized(); err != nil {
		return err
	}
	if version == "" {
		return fmt.Errorf("%w: model version is empty", errors.ErrInvalidArgument)
	}
	config.Instance.Model.Version = version
	return nil
}

// SetTelegramCredentials sets the bot token and chat used for notifications
func SetTelegramCredentials(token, chatID string) error {
	mu.Lock()
	defer mu.Unlock()
	if err := ensureInitialized(); err != nil {
		return err
	}
	config.Instance.Telegram.Token = token
	config.Instance.Telegram.ChatID = chatID
	return nil
}

// SetS3Storage deploys models to an S3 bucket instead of the local directory
func SetS3Storage(bucket, region, accessKey, secretKey, endpoint string) error {
	mu.Lock()
	defer mu.Unlock()
	if err := ensureInitialized(); err != nil {
		return err
	}
	config.Instance.Storage.Provider = "s3"
	config.Instance.Storage.S3.Bucket = bucket
	config.Instance.Storage.S3.Region = region
	config.Instance.Storage.S3.AccessKey = accessKey
	config.Instance.Storage.S3.SecretKey = secretKey
	config.Instance.Storage.S3.Endpoint = endpoint
	return nil
}

// RunOnce executes the workflow with the current configuration. A run that
// fails at some step still returns a result; the error is only set when the
// run could not be started.
func RunOnce(ctx context.Context) (*RunResult, error) {
	mu.Lock()
	if err := ensureInitialized(); err != nil {
		mu.Unlock()
		return nil, err
	}
	cfg := config.Instance
	mu.Unlock()

	app, err := bootstrap.New(cfg)
	if err != nil {
		return nil, err
	}
	defer app.Close()

	report, err := app.RunOnce(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return resultFromReport(report), nil
}

func resultFromReport(report *pipeline.Report) *RunResult {
	result := &RunResult{
		RunID:    report.RunID.String(),
		Success:  report.Succeeded(),
		Decision: report.Decision.String(),
		Deployed: report.Deployment != nil,
		Notified: report.Notification != nil,
	}
	if report.Metrics != nil {
		result.Metrics = &Metrics{
			Accuracy:  report.Metrics.Accuracy,
			Precision: report.Metrics.Precision,
			Recall:    report.Metrics.Recall,
			F1:        report.Metrics.F1,
		}
	}
	if report.Deployment != nil {
		result.Location = report.Deployment.Location
	}
	for i, e := range report.Errors {
		if i > 0 {
			result.ErrorMessage += "; "
		}
		result.ErrorMessage += e.TaskID + ": " + e.Error
	}
	return result
}

// GetVersion returns the library version
func GetVersion() string {
	return "0.1.0"
}

// Shutdown flushes logs before the application exits
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		logger.LogInfo("Retrain library shutting down", nil)
		_ = logger.Sync()
	}
	return nil
}
