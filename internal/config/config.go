package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/seo-pipeline/internal/cost"
	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/provider"
	"github.com/sells-group/seo-pipeline/internal/resilience"
	"github.com/sells-group/seo-pipeline/internal/scrape"
	"github.com/sells-group/seo-pipeline/pkg/jina"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Queue    QueueConfig    `yaml:"queue" mapstructure:"queue"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Pricing  PricingConfig  `yaml:"pricing" mapstructure:"pricing"`
	Prompts  PromptsConfig  `yaml:"prompts" mapstructure:"prompts"`
	Scrape   ScrapeConfig   `yaml:"scrape" mapstructure:"scrape"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// QueueConfig configures the job broker and the worker.
type QueueConfig struct {
	Backend           string                 `yaml:"backend" mapstructure:"backend"`
	RedisAddr         string                 `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword     string                 `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB           int                    `yaml:"redis_db" mapstructure:"redis_db"`
	RedisPrefix       string                 `yaml:"redis_prefix" mapstructure:"redis_prefix"`
	NATSURL           string                 `yaml:"nats_url" mapstructure:"nats_url"`
	NATSStream        string                 `yaml:"nats_stream" mapstructure:"nats_stream"`
	VisibilityTimeout int                    `yaml:"visibility_timeout_secs" mapstructure:"visibility_timeout_secs"`
	PollSecs          int                    `yaml:"poll_secs" mapstructure:"poll_secs"`
	Concurrency       int                    `yaml:"concurrency" mapstructure:"concurrency"`
	Retry             resilience.RetryPolicy `yaml:"retry" mapstructure:"retry"`
}

// ProviderConfig selects the default provider and its credentials.
type ProviderConfig struct {
	Kind        string               `yaml:"kind" mapstructure:"kind"`
	Models      map[string]string    `yaml:"models" mapstructure:"models"`
	OpenRouter  provider.Credentials `yaml:"openrouter" mapstructure:"openrouter"`
	Gemini      provider.Credentials `yaml:"gemini" mapstructure:"gemini"`
	Anthropic   provider.Credentials `yaml:"anthropic" mapstructure:"anthropic"`
	TimeoutSecs int                  `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	// ForceJSON turns unparsable answers into retried errors.
	ForceJSON bool          `yaml:"force_json" mapstructure:"force_json"`
	Breaker   BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	AppName   string        `yaml:"app_name" mapstructure:"app_name"`
	AppURL    string        `yaml:"app_url" mapstructure:"app_url"`
}

// BreakerConfig configures the circuit breaker around upstream calls.
type BreakerConfig struct {
	Enabled          bool `yaml:"enabled" mapstructure:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int  `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// PricingConfig lists per-model token rates. Entries override the built-in
// table; model ids contain dots, so they are a list rather than a map.
type PricingConfig struct {
	Models []ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Model  string  `yaml:"model" mapstructure:"model"`
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PromptsConfig points at an optional prompt override file.
type PromptsConfig struct {
	OverridesFile string `yaml:"overrides_file" mapstructure:"overrides_file"`
}

// ScrapeConfig configures the homepage snapshot of the scan stage.
type ScrapeConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	// Reader enables the Jina Reader fallback for blocked homepages.
	Reader        bool   `yaml:"reader" mapstructure:"reader"`
	ReaderKey     string `yaml:"reader_key" mapstructure:"reader_key"`
	ReaderBaseURL string `yaml:"reader_base_url" mapstructure:"reader_base_url"`
}

// LoggingConfig toggles the AI call log.
type LoggingConfig struct {
	AICalls bool `yaml:"ai_calls" mapstructure:"ai_calls"`
}

// ServerConfig configures the trigger server.
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
	v.SetEnvPrefix("SEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "seo-pipeline.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_prefix", "seo")
	v.SetDefault("queue.nats_url", "nats://localhost:4222")
	v.SetDefault("queue.nats_stream", "SEO_JOBS")
	v.SetDefault("queue.visibility_timeout_secs", 120)
	v.SetDefault("queue.poll_secs", 1)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.retry.max_attempts", 3)
	v.SetDefault("queue.retry.initial_backoff", 5*time.Second)
	v.SetDefault("queue.retry.max_backoff", 5*time.Minute)
	v.SetDefault("queue.retry.multiplier", 2.0)
	v.SetDefault("queue.retry.jitter_fraction", 0.2)
	v.SetDefault("provider.kind", string(provider.KindMock))
	// Registered so SEO_PROVIDER_<KIND>_API_KEY is picked up by Unmarshal.
	v.SetDefault("provider.openrouter.api_key", "")
	v.SetDefault("provider.gemini.api_key", "")
	v.SetDefault("provider.anthropic.api_key", "")
	v.SetDefault("provider.openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("provider.openrouter.rate_limit", 5)
	v.SetDefault("provider.timeout_secs", 45)
	v.SetDefault("provider.breaker.enabled", true)
	v.SetDefault("provider.breaker.failure_threshold", 5)
	v.SetDefault("provider.breaker.reset_timeout_secs", 30)
	v.SetDefault("provider.app_name", "seo-pipeline")
	v.SetDefault("prompts.overrides_file", "")
	v.SetDefault("scrape.enabled", true)
	v.SetDefault("scrape.timeout_secs", 15)
	v.SetDefault("scrape.rate_limit", 2)
	v.SetDefault("scrape.reader", false)
	v.SetDefault("scrape.reader_key", "")
	v.SetDefault("scrape.reader_base_url", "https://r.jina.ai")
	v.SetDefault("logging.ai_calls", true)
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

// Validate checks the configuration for the given mode: "cli", "worker" or
// "serve". All violations are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "cli", "worker", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch c.Queue.Backend {
	case "memory", "redis", "nats":
	default:
		errs = append(errs, "queue.backend must be memory, redis or nats")
	}
	if c.Queue.Backend == "redis" && c.Queue.RedisAddr == "" {
		errs = append(errs, "queue.redis_addr is required for the redis backend")
	}
	if c.Queue.Backend == "nats" && c.Queue.NATSURL == "" {
		errs = append(errs, "queue.nats_url is required for the nats backend")
	}

	if !provider.Kind(c.Provider.Kind).Valid() {
		errs = append(errs, "provider.kind must be one of openrouter, gemini, anthropic, mock")
	}
	for task := range c.Provider.Models {
		if !model.Task(task).Valid() {
			errs = append(errs, "provider.models has unknown task "+task)
		}
	}

	if mode == "worker" {
		if c.Queue.Concurrency < 1 || c.Queue.Concurrency > 64 {
			errs = append(errs, "queue.concurrency must be between 1 and 64")
		}
		if c.Queue.Retry.MaxAttempts < 1 {
			errs = append(errs, "queue.retry.max_attempts must be >= 1")
		}
	}
	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ProviderConfig converts the provider section into a provider.Config.
func (c *Config) ProviderConfig() provider.Config {
	models := make(map[model.Task]string, len(c.Provider.Models))
	for task, m := range c.Provider.Models {
		models[model.Task(task)] = m
	}

	pc := provider.Config{
		Kind:       provider.Kind(c.Provider.Kind),
		Models:     models,
		OpenRouter: c.Provider.OpenRouter,
		Gemini:     c.Provider.Gemini,
		Anthropic:  c.Provider.Anthropic,
		Timeout:    time.Duration(c.Provider.TimeoutSecs) * time.Second,
		Rates:      c.Rates(),
		AppName:    c.Provider.AppName,
		AppURL:     c.Provider.AppURL,
	}
	if c.Provider.Breaker.Enabled {
		bc := resilience.DefaultCircuitBreakerConfig()
		if c.Provider.Breaker.FailureThreshold > 0 {
			bc.FailureThreshold = c.Provider.Breaker.FailureThreshold
		}
		if c.Provider.Breaker.ResetTimeoutSecs > 0 {
			bc.ResetTimeout = time.Duration(c.Provider.Breaker.ResetTimeoutSecs) * time.Second
		}
		pc.Breaker = &bc
	}
	return pc
}

// Rates returns the built-in rate table with configured entries applied.
func (c *Config) Rates() cost.Rates {
	rates := cost.DefaultRates()
	for _, p := range c.Pricing.Models {
		if p.Model == "" {
			continue
		}
		rates.Models[p.Model] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	return rates
}

// ScrapeConfig converts the scrape section into a scrape.Config.
func (c *Config) ScrapeConfig() scrape.Config {
	sc := scrape.Config{
		Timeout:   time.Duration(c.Scrape.TimeoutSecs) * time.Second,
		RateLimit: c.Scrape.RateLimit,
		UserAgent: c.Scrape.UserAgent,
	}
	if c.Scrape.Reader {
		var opts []jina.Option
		if c.Scrape.ReaderBaseURL != "" {
			opts = append(opts, jina.WithBaseURL(c.Scrape.ReaderBaseURL))
		}
		sc.Reader = jina.NewClient(c.Scrape.ReaderKey, opts...)
	}
	return sc
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
