package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Crawl      CrawlConfig      `yaml:"crawl" mapstructure:"crawl"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Delegation DelegationConfig `yaml:"delegation" mapstructure:"delegation"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// RegistryConfig locates the target catalog and delegation seed files.
type RegistryConfig struct {
	TargetsPath        string `yaml:"targets_path" mapstructure:"targets_path"`
	DelegationSeedPath string `yaml:"delegation_seed_path" mapstructure:"delegation_seed_path"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CrawlConfig configures the crawl orchestrator.
type CrawlConfig struct {
	Concurrency       int `yaml:"concurrency" mapstructure:"concurrency"`
	FetchTimeoutSecs  int `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	MaxRetries        int `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffBaseMillis int `yaml:"backoff_base_millis" mapstructure:"backoff_base_millis"`
	PolitenessSecs    int `yaml:"politeness_secs" mapstructure:"politeness_secs"`
	SettleDelayMillis int `yaml:"settle_delay_millis" mapstructure:"settle_delay_millis"`
}

// FetchTimeout returns the per-attempt hard timeout.
func (c CrawlConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

// BackoffBase returns the exponential backoff base delay.
func (c CrawlConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMillis) * time.Millisecond
}

// Politeness returns the per-host delay between sequential requests.
func (c CrawlConfig) Politeness() time.Duration {
	return time.Duration(c.PolitenessSecs) * time.Second
}

// SettleDelay returns the post-load wait before text extraction.
func (c CrawlConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMillis) * time.Millisecond
}

// AnthropicConfig holds Anthropic API settings for the extraction capability.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// DelegationConfig tunes the delegation evidence engine.
type DelegationConfig struct {
	VerificationWindowDays int     `yaml:"verification_window_days" mapstructure:"verification_window_days"`
	ConfirmThreshold       float64 `yaml:"confirm_threshold" mapstructure:"confirm_threshold"`
}

// ServerConfig configures the review HTTP server.
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
	v.SetEnvPrefix("POLICYWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("registry.targets_path", "targets.yaml")
	v.SetDefault("registry.delegation_seed_path", "delegation_seed.yaml")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "policywatch.db")
	v.SetDefault("crawl.concurrency", 5)
	v.SetDefault("crawl.fetch_timeout_secs", 45)
	v.SetDefault("crawl.max_retries", 2)
	v.SetDefault("crawl.backoff_base_millis", 1000)
	v.SetDefault("crawl.politeness_secs", 3)
	v.SetDefault("crawl.settle_delay_millis", 1500)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("delegation.verification_window_days", 90)
	v.SetDefault("delegation.confirm_threshold", 0.8)
	v.SetDefault("server.port", 8080)
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

// Validate checks the fields a given mode actually needs. Modes: "crawl"
// (full pipeline with extraction), "serve" (review API), "query" (read-only
// commands).
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	switch mode {
	case "crawl":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Crawl.Concurrency < 1 || c.Crawl.Concurrency > 32 {
			problems = append(problems, "crawl.concurrency must be between 1 and 32")
		}
		if c.Delegation.ConfirmThreshold < 0 || c.Delegation.ConfirmThreshold > 1 {
			problems = append(problems, "delegation.confirm_threshold must be between 0 and 1")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "query":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
