package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	compression "github.com/deploymenttheory/go-model-retrain/internal/common/compressionutil"
	"github.com/deploymenttheory/go-model-retrain/internal/common/cryptoutil"
	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/deploymenttheory/go-model-retrain/internal/common/fsutil"
	"github.com/deploymenttheory/go-model-retrain/internal/common/osutil"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name used for config files and directories
	AppName = "go-model-retrain"

	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "RETRAIN"
)

// AppConfig holds the application configuration
type AppConfig struct {
	// Core settings
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// DAG metadata and scheduling
	DAG struct {
		ID          string        `mapstructure:"id"`
		Description string        `mapstructure:"description"`
		Owner       string        `mapstructure:"owner"`
		Tags        []string      `mapstructure:"tags"`
		Schedule    string        `mapstructure:"schedule"` // @hourly, @daily, @weekly or a duration
		RunOnStart  bool          `mapstructure:"run_on_start"`
		Retries     int           `mapstructure:"retries"`
		RetryDelay  time.Duration `mapstructure:"retry_delay"`
	} `mapstructure:"dag"`

	// Model training settings
	Model struct {
		Version       string `mapstructure:"version"`
		WorkDir       string `mapstructure:"work_dir"`
		Compression   string `mapstructure:"compression"`    // xz, bzip2, gzip
		HashAlgorithm string `mapstructure:"hash_algorithm"` // sha256, sha512, blake2b
		EvalSeed      uint64 `mapstructure:"eval_seed"`      // 0 picks a new seed per process
	} `mapstructure:"model"`

	// Telegram notification settings
	Telegram struct {
		Token   string        `mapstructure:"token"`
		ChatID  string        `mapstructure:"chat_id"`
		APIURL  string        `mapstructure:"api_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"telegram"`

	// Deployment target
	Storage struct {
		Provider string `mapstructure:"provider"` // local, s3
		Prefix   string `mapstructure:"prefix"`
		LocalDir string `mapstructure:"local_dir"`

		// AWS S3 settings
		S3 struct {
			Bucket    string `mapstructure:"bucket"`
			Region    string `mapstructure:"region"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			Endpoint  string `mapstructure:"endpoint"` // For custom S3-compatible storage
		} `mapstructure:"s3"`
	} `mapstructure:"storage"`

	// Run history database
	History struct {
		Driver string `mapstructure:"driver"` // sqlite, postgres
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"history"`

	// HTTP server used by the serve command
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	// ConfigFile is the file the configuration was read from, if any
	ConfigFile string `mapstructure:"-"`
}

// Global variables
var (
	// Global configuration instance
	Instance AppConfig

	// Status indicators
	ConfigLoaded bool
	ConfigFile   string

	// Ensure thread safety
	initOnce sync.Once
)

// Initialize loads the configuration into Instance once per process
func Initialize(cfgFile string) error {
	var err error

	initOnce.Do(func() {
		var cfg *AppConfig
		cfg, err = Load(cfgFile)
		if cfg != nil {
			Instance = *cfg
			ConfigFile = cfg.ConfigFile
			ConfigLoaded = cfg.ConfigFile != ""
		}
		if err == nil {
			ensureDirectories(&Instance)
		}
	})

	return err
}

// Load reads defaults, the config file, .env and the environment into a new
// AppConfig. An explicit cfgFile must exist; otherwise the standard search
// paths are tried and a missing file is not an error.
func Load(cfgFile string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		addSearchPaths(v)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	cfg := &AppConfig{}
	if readErr := v.ReadInConfig(); readErr != nil {
		if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", readErr)
		}
	} else {
		cfg.ConfigFile = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	dataDir, err := fsutil.GetDataDir(AppName)
	if err != nil {
		dataDir = "data"
	}

	// Core settings
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "human")
	v.SetDefault("log_file", "")

	// DAG defaults
	v.SetDefault("dag.id", "ml_retrain_pipeline")
	v.SetDefault("dag.description", "Retrain, evaluate and conditionally deploy the model")
	v.SetDefault("dag.owner", "mlops")
	v.SetDefault("dag.tags", []string{"ml", "retrain", "notification"})
	v.SetDefault("dag.schedule", "@daily")
	v.SetDefault("dag.run_on_start", false)
	v.SetDefault("dag.retries", 1)
	v.SetDefault("dag.retry_delay", 10*time.Second)

	// Model defaults
	v.SetDefault("model.version", "v1.0.0")
	v.SetDefault("model.work_dir", filepath.Join(dataDir, "work"))
	v.SetDefault("model.compression", string(compression.FormatXZ))
	v.SetDefault("model.hash_algorithm", string(cryptoutil.SHA256))
	v.SetDefault("model.eval_seed", 0)

	// Telegram defaults
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", 10*time.Second)

	// Storage defaults
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.prefix", "models")
	v.SetDefault("storage.local_dir", filepath.Join(dataDir, "deploy"))
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.endpoint", "")

	// History defaults
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.dsn", filepath.Join(dataDir, "retrain.db"))

	// Server defaults
	v.SetDefault("server.addr", ":8080")
}

// bindLegacyEnv also accepts the unprefixed MODEL_VERSION and TELEGRAM_*
// variables. The prefixed name wins when both are set.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("model.version", EnvPrefix+"_MODEL_VERSION", "MODEL_VERSION")
	_ = v.BindEnv("telegram.token", EnvPrefix+"_TELEGRAM_TOKEN", "TELEGRAM_TOKEN")
	_ = v.BindEnv("telegram.chat_id", EnvPrefix+"_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID")
}

// addSearchPaths adds config search paths
func addSearchPaths(v *viper.Viper) {
	// Always check current directory first
	v.AddConfigPath(".")

	// In dev mode, only use current directory and user config dir
	if osutil.IsDevEnvironment() {
		if configDir, err := fsutil.GetConfigDir(AppName); err == nil {
			v.AddConfigPath(configDir)
		}
		return
	}

	// In CI/Pipeline, only use current directory and explicit CI directories
	if osutil.IsRunningInPipeline() {
		v.AddConfigPath("/etc/" + AppName)
		return
	}

	if configDir, err := fsutil.GetConfigDir(AppName); err == nil {
		v.AddConfigPath(configDir)
	}
	v.AddConfigPath(fsutil.GetSystemConfigDir(AppName))
}

// Validate checks values that would otherwise fail deep inside a run
func (c *AppConfig) Validate() error {
	var problems []string

	switch c.LogFormat {
	case "json", "human", "":
	default:
		problems = append(problems, fmt.Sprintf("log_format %q must be json or human", c.LogFormat))
	}
	if c.DAG.ID == "" {
		problems = append(problems, "dag.id is required")
	}
	if c.DAG.Retries < 0 {
		problems = append(problems, "dag.retries must not be negative")
	}
	if c.DAG.RetryDelay < 0 {
		problems = append(problems, "dag.retry_delay must not be negative")
	}
	if strings.TrimSpace(c.Model.Version) == "" {
		problems = append(problems, "model.version is required")
	}
	if _, err := compression.ParseFormat(c.Model.Compression); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := cryptoutil.NewHasher(cryptoutil.HashAlgorithm(c.Model.HashAlgorithm)); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.Storage.Provider {
	case "local", "s3":
	default:
		problems = append(problems, fmt.Sprintf("storage.provider %q must be local or s3", c.Storage.Provider))
	}
	switch c.History.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("history.driver %q must be sqlite or postgres", c.History.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errors.ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ensureDirectories creates the local directories the configuration points at
func ensureDirectories(cfg *AppConfig) {
	// Don't create directories in a pipeline environment unless explicitly requested
	if osutil.IsRunningInPipeline() && !osutil.CreateDirsRequested() {
		return
	}

	if cfg.LogFile != "" {
		_ = fsutil.CreateDirIfNotExists(filepath.Dir(cfg.LogFile))
	}
	if cfg.Model.WorkDir != "" {
		_ = fsutil.CreateDirIfNotExists(cfg.Model.WorkDir)
	}
	if cfg.Storage.Provider == "local" && cfg.Storage.LocalDir != "" {
		_ = fsutil.CreateDirIfNotExists(cfg.Storage.LocalDir)
	}
	if cfg.History.Driver == "sqlite" && cfg.History.DSN != "" && !strings.HasPrefix(cfg.History.DSN, "file:") {
		_ = fsutil.CreateDirIfNotExists(filepath.Dir(cfg.History.DSN))
	}
}

// Redacted returns a copy with credentials masked, for display
func (c AppConfig) Redacted() AppConfig {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Telegram.Token = mask(c.Telegram.Token)
	c.Storage.S3.SecretKey = mask(c.Storage.S3.SecretKey)
	c.DAG.Tags = append([]string(nil), c.DAG.Tags...)
	return c
}
