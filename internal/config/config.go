package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/licenceworks/hmo-audit/pkg/textract"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Textract   textract.Config  `yaml:"textract" mapstructure:"textract"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PipelineConfig configures document processing behavior.
type PipelineConfig struct {
	Concurrency   int  `yaml:"concurrency" mapstructure:"concurrency"`
	CacheTTLHours int  `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	CacheEnabled  bool `yaml:"cache_enabled" mapstructure:"cache_enabled"`
}

// ValidationConfig configures confidence scoring and flagging.
type ValidationConfig struct {
	PolicyPath        string  `yaml:"policy_path" mapstructure:"policy_path"`
	FlagThreshold     float64 `yaml:"flag_threshold" mapstructure:"flag_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold" mapstructure:"critical_threshold"`
}

// ExportConfig configures CSV and XLSX output.
type ExportConfig struct {
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port          int     `yaml:"port" mapstructure:"port"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// RetryConfig configures retry and circuit breaker behavior for calls to
// external extraction providers.
type RetryConfig struct {
	MaxAttempts             int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs        int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs            int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier              float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction          float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// MonitoringConfig configures background health checks and webhook alerts
// for the serve mode.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	MaxFailureRate      float64 `yaml:"max_failure_rate" mapstructure:"max_failure_rate"`
	MaxReviewBacklog    int     `yaml:"max_review_backlog" mapstructure:"max_review_backlog"`
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
	v.SetEnvPrefix("HMOAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "hmo-audit.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("textract.provider", "local")
	v.SetDefault("textract.pdftotext_path", "pdftotext")
	v.SetDefault("textract.mistral_model", "pixtral-large-latest")
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.cache_ttl_hours", 24)
	v.SetDefault("pipeline.cache_enabled", true)
	v.SetDefault("validation.flag_threshold", 0.7)
	v.SetDefault("validation.critical_threshold", 0.5)
	v.SetDefault("export.output_dir", "output")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_per_second", 10)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("retry.circuit_failure_threshold", 5)
	v.SetDefault("retry.circuit_reset_secs", 30)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.max_failure_rate", 0.25)
	v.SetDefault("monitoring.max_review_backlog", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	return &cfg, nil
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
