package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	S3         S3Config         `yaml:"s3" mapstructure:"s3"`
	CBR        CBRConfig        `yaml:"cbr" mapstructure:"cbr"`
	Predict    PredictConfig    `yaml:"predict" mapstructure:"predict"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Import     ImportConfig     `yaml:"import" mapstructure:"import"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// SQLitePath is used when Driver is "sqlite".
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns   int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns   int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the metals price cache. An empty Addr disables it.
type RedisConfig struct {
	Addr       string `yaml:"addr" mapstructure:"addr"`
	Password   string `yaml:"password" mapstructure:"password"`
	DB         int    `yaml:"db" mapstructure:"db"`
	PoolSize   int    `yaml:"pool_size" mapstructure:"pool_size"`
	TLSEnabled bool   `yaml:"tls_enabled" mapstructure:"tls_enabled"`
	TTLHours   int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// S3Config holds object storage settings for exports.
type S3Config struct {
	Region         string `yaml:"region" mapstructure:"region"`
	Endpoint       string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey      string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey      string `yaml:"secret_key" mapstructure:"secret_key"`
	ForcePathStyle bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// CBRConfig configures the Central Bank of Russia client.
type CBRConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	ChunkDays   int     `yaml:"chunk_days" mapstructure:"chunk_days"`
}

// PredictConfig tunes comparable matching and prediction.
type PredictConfig struct {
	MinSamples     int    `yaml:"min_samples" mapstructure:"min_samples"`
	TargetSamples  int    `yaml:"target_samples" mapstructure:"target_samples"`
	MaxComparables int    `yaml:"max_comparables" mapstructure:"max_comparables"`
	PremiumsFile   string `yaml:"premiums_file" mapstructure:"premiums_file"`
}

// ResilienceConfig configures lookup timeouts, retries and circuit breakers.
type ResilienceConfig struct {
	LookupTimeoutMs  int `yaml:"lookup_timeout_ms" mapstructure:"lookup_timeout_ms"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	CircuitThreshold int `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// LookupTimeout returns LookupTimeoutMs as a duration.
func (r ResilienceConfig) LookupTimeout() time.Duration {
	return time.Duration(r.LookupTimeoutMs) * time.Millisecond
}

// BatchConfig configures batch prediction.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ImportConfig configures file imports.
type ImportConfig struct {
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// MonitoringConfig configures post-batch alerting. An empty WebhookURL
// disables delivery.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DLQThreshold         int     `yaml:"dlq_threshold" mapstructure:"dlq_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (optional), a .env file
// (optional) and LOTVALUE_* environment variables, in increasing priority.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LOTVALUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "lotvalue.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.ttl_hours", 24)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("cbr.base_url", "https://www.cbr.ru/scripts")
	v.SetDefault("cbr.user_agent", "lotvalue/1.0")
	v.SetDefault("cbr.timeout_secs", 30)
	v.SetDefault("cbr.rate_per_sec", 2.0)
	v.SetDefault("cbr.chunk_days", 90)
	v.SetDefault("predict.min_samples", 3)
	v.SetDefault("predict.target_samples", 10)
	v.SetDefault("predict.max_comparables", 50)
	v.SetDefault("resilience.lookup_timeout_ms", 5000)
	v.SetDefault("resilience.max_attempts", 2)
	v.SetDefault("resilience.initial_backoff_ms", 200)
	v.SetDefault("resilience.circuit_threshold", 5)
	v.SetDefault("resilience.circuit_reset_secs", 30)
	v.SetDefault("batch.concurrency", 8)
	v.SetDefault("import.chunk_size", 500)
	v.SetDefault("monitoring.failure_rate_threshold", 0.1)
	v.SetDefault("monitoring.dlq_threshold", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Bind keys without defaults so AutomaticEnv sees them on Unmarshal.
	for _, key := range []string{
		"store.database_url",
		"redis.addr", "redis.password", "redis.db", "redis.tls_enabled",
		"s3.endpoint", "s3.access_key", "s3.secret_key", "s3.force_path_style",
		"predict.premiums_file",
		"monitoring.webhook_url",
	} {
		_ = v.BindEnv(key)
	}

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

// Validate checks the settings a command mode depends on. Modes:
// "store" (any database access), "metals" (CBR sync), "export" (S3 output).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store", "metals", "export":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 256 {
		errs = append(errs, "batch.concurrency must be between 1 and 256")
	}
	if c.Predict.MinSamples < 1 {
		errs = append(errs, "predict.min_samples must be at least 1")
	}
	if c.Predict.TargetSamples < c.Predict.MinSamples {
		errs = append(errs, "predict.target_samples must be >= predict.min_samples")
	}
	if c.Resilience.LookupTimeoutMs <= 0 {
		errs = append(errs, "resilience.lookup_timeout_ms must be positive")
	}

	switch mode {
	case "metals":
		if c.CBR.BaseURL == "" {
			errs = append(errs, "cbr.base_url is required")
		}
	case "export":
		if c.S3.AccessKey != "" && c.S3.SecretKey == "" {
			errs = append(errs, "s3.secret_key is required when s3.access_key is set")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
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
