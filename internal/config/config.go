package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/validation-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Validation   ValidationConfig   `yaml:"validation" mapstructure:"validation"`
	Disagreement DisagreementConfig `yaml:"disagreement" mapstructure:"disagreement"`
	Learning     LearningConfig     `yaml:"learning" mapstructure:"learning"`
	ReviewQueue  ReviewQueueConfig  `yaml:"review_queue" mapstructure:"review_queue"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings for the generation and
// evaluation providers.
type AnthropicConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	GeneratorModel string  `yaml:"generator_model" mapstructure:"generator_model"`
	EvaluatorModel string  `yaml:"evaluator_model" mapstructure:"evaluator_model"`
	MaxTokens      int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts  int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// ValidationConfig configures node scoring and the iteration loop.
type ValidationConfig struct {
	ConfidenceThreshold float64             `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	Weights             model.FactorWeights `yaml:"weights" mapstructure:"weights"`
	Floors              model.FactorFloors  `yaml:"floors" mapstructure:"floors"`
	MaxIterations       int                 `yaml:"max_iterations" mapstructure:"max_iterations"`
	MaxConcurrentScores int                 `yaml:"max_concurrent_scores" mapstructure:"max_concurrent_scores"`
	SweepEvery          int                 `yaml:"sweep_every" mapstructure:"sweep_every"`
	RevisionTimeout     time.Duration       `yaml:"revision_timeout" mapstructure:"revision_timeout"`
	LexiconPath         string              `yaml:"lexicon_path" mapstructure:"lexicon_path"`
}

// DisagreementConfig configures disagreement detection and escalation policy.
type DisagreementConfig struct {
	ConfidenceDelta     float64        `yaml:"confidence_delta" mapstructure:"confidence_delta"`
	SeverityThreshold   model.Severity `yaml:"severity_threshold" mapstructure:"severity_threshold"`
	IssueCountThreshold int            `yaml:"issue_count_threshold" mapstructure:"issue_count_threshold"`
	PendingTimeout      time.Duration  `yaml:"pending_timeout" mapstructure:"pending_timeout"`
}

// LearningConfig configures the continuous learning engine.
type LearningConfig struct {
	BatchInterval     time.Duration `yaml:"batch_interval" mapstructure:"batch_interval"`
	BatchSize         int           `yaml:"batch_size" mapstructure:"batch_size"`
	MinClusterEvents  int           `yaml:"min_cluster_events" mapstructure:"min_cluster_events"`
	MinClusterImpact  float64       `yaml:"min_cluster_impact" mapstructure:"min_cluster_impact"`
	RetrainingPerHour float64       `yaml:"retraining_per_hour" mapstructure:"retraining_per_hour"`
	MaxEpochs         int           `yaml:"max_epochs" mapstructure:"max_epochs"`
}

// ReviewQueueConfig configures the human-review queue webhook.
type ReviewQueueConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the callback server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VALIDATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "validation.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.generator_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.evaluator_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.requests_per_sec", 5)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.retry_attempts", 3)
	v.SetDefault("validation.confidence_threshold", 85)
	v.SetDefault("validation.weights.accuracy", 0.30)
	v.SetDefault("validation.weights.bias", 0.25)
	v.SetDefault("validation.weights.clarity", 0.20)
	v.SetDefault("validation.weights.consistency", 0.15)
	v.SetDefault("validation.weights.compliance", 0.10)
	v.SetDefault("validation.floors.accuracy", 40)
	v.SetDefault("validation.floors.bias", 50)
	v.SetDefault("validation.floors.clarity", 40)
	v.SetDefault("validation.floors.consistency", 40)
	v.SetDefault("validation.floors.compliance", 50)
	v.SetDefault("validation.max_iterations", 3)
	v.SetDefault("validation.max_concurrent_scores", 5)
	v.SetDefault("validation.sweep_every", 3)
	v.SetDefault("validation.revision_timeout", "24h")
	v.SetDefault("disagreement.confidence_delta", 0.3)
	v.SetDefault("disagreement.severity_threshold", "high")
	v.SetDefault("disagreement.issue_count_threshold", 3)
	v.SetDefault("disagreement.pending_timeout", "48h")
	v.SetDefault("learning.batch_interval", "5m")
	v.SetDefault("learning.batch_size", 500)
	v.SetDefault("learning.min_cluster_events", 5)
	v.SetDefault("learning.min_cluster_impact", 0.3)
	v.SetDefault("learning.retraining_per_hour", 2)
	v.SetDefault("learning.max_epochs", 10)
	v.SetDefault("review_queue.timeout_secs", 15)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate fails fast on inconsistent tunables. Required collaborators are
// checked at orchestrator construction; this guards the numeric policy knobs.
func (c *Config) Validate() error {
	if err := c.Validation.Weights.Validate(); err != nil {
		return eris.Wrap(err, "config: validation weights")
	}
	if c.Validation.ConfidenceThreshold <= 0 || c.Validation.ConfidenceThreshold > 100 {
		return eris.Errorf("config: confidence_threshold must be in (0,100], got %.1f", c.Validation.ConfidenceThreshold)
	}
	if c.Validation.MaxIterations < 1 {
		return eris.New("config: max_iterations must be >= 1")
	}
	if c.Validation.MaxConcurrentScores < 1 {
		return eris.New("config: max_concurrent_scores must be >= 1")
	}
	if c.Disagreement.ConfidenceDelta <= 0 || c.Disagreement.ConfidenceDelta > 1 {
		return eris.Errorf("config: confidence_delta must be in (0,1], got %.2f", c.Disagreement.ConfidenceDelta)
	}
	if c.Disagreement.IssueCountThreshold < 1 {
		return eris.New("config: issue_count_threshold must be >= 1")
	}
	switch c.Disagreement.SeverityThreshold {
	case model.SeverityLow, model.SeverityMedium, model.SeverityHigh, model.SeverityCritical:
	default:
		return eris.Errorf("config: unknown severity_threshold %q", c.Disagreement.SeverityThreshold)
	}
	if c.Learning.BatchInterval <= 0 {
		return eris.New("config: learning batch_interval must be positive")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
