package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/sells-group/seo-pipeline/internal/cost"
	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/resilience"
	"github.com/sells-group/seo-pipeline/pkg/anthropic"
	"github.com/sells-group/seo-pipeline/pkg/openrouter"
)

// Credentials holds the connection settings of one backend.
type Credentials struct {
	APIKey    string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// Config selects and configures a backend.
type Config struct {
	Kind Kind
	// Models maps tasks to model identifiers; missing tasks use DefaultModels.
	Models map[model.Task]string

	OpenRouter Credentials
	Gemini     Credentials
	Anthropic  Credentials

	// Timeout bounds each upstream call. Zero means no bound.
	Timeout time.Duration
	Rates   cost.Rates
	// Breaker guards upstream calls when set.
	Breaker *resilience.CircuitBreakerConfig
	// AppName and AppURL are sent as attribution headers where supported.
	AppName string
	AppURL  string
}

func (c Config) credentials(k Kind) Credentials {
	switch k {
	case KindOpenRouter:
		return c.OpenRouter
	case KindGemini:
		return c.Gemini
	case KindAnthropic:
		return c.Anthropic
	default:
		return Credentials{}
	}
}

var defaultModels = map[Kind]map[model.Task]string{
	KindOpenRouter: {
		model.TaskScanWebsite:      "perplexity/sonar",
		model.TaskAnalyzeBusiness:  "openai/gpt-4o-mini",
		model.TaskBuildSeoStrategy: "openai/gpt-4o",
		model.TaskGenerateArticle:  "anthropic/claude-sonnet-4.5",
		model.TaskGenerateImage:    "google/gemini-2.5-flash-image",
		model.TaskChat:             "openai/gpt-4o-mini",
	},
	KindGemini: {
		model.TaskScanWebsite:      "gemini-2.5-flash",
		model.TaskAnalyzeBusiness:  "gemini-2.5-flash",
		model.TaskBuildSeoStrategy: "gemini-2.5-pro",
		model.TaskGenerateArticle:  "gemini-2.5-pro",
		model.TaskGenerateImage:    "imagen-4.0-generate-001",
		model.TaskChat:             "gemini-2.5-flash",
	},
	KindAnthropic: {
		model.TaskScanWebsite:      "claude-haiku-4-5-20251001",
		model.TaskAnalyzeBusiness:  "claude-haiku-4-5-20251001",
		model.TaskBuildSeoStrategy: "claude-sonnet-4-5-20250929",
		model.TaskGenerateArticle:  "claude-sonnet-4-5-20250929",
		model.TaskChat:             "claude-haiku-4-5-20251001",
	},
	KindMock: {
		model.TaskScanWebsite:      "mock",
		model.TaskAnalyzeBusiness:  "mock",
		model.TaskBuildSeoStrategy: "mock",
		model.TaskGenerateArticle:  "mock",
		model.TaskGenerateImage:    "mock",
		model.TaskChat:             "mock",
	},
}

// DefaultModels returns the built-in task→model map of kind.
func DefaultModels(kind Kind) map[model.Task]string {
	return defaultModels[kind]
}

// New builds the provider selected by cfg.Kind. An empty kind selects the
// mock provider. A real kind without an API key builds a provider that
// degrades every call to the task fallback.
func New(ctx context.Context, cfg Config) (Provider, error) {
	if cfg.Kind == "" {
		cfg.Kind = KindMock
	}
	if !cfg.Kind.Valid() {
		return nil, eris.Errorf("provider: unknown kind %q", cfg.Kind)
	}
	if len(cfg.Rates.Models) == 0 {
		cfg.Rates = cost.DefaultRates()
	}

	e := &engine{
		kind:    cfg.Kind,
		models:  cfg.Models,
		costs:   cost.NewCalculator(cfg.Rates),
		timeout: cfg.Timeout,
		log:     zap.L().With(zap.String("provider", string(cfg.Kind))),
	}

	creds := cfg.credentials(cfg.Kind)
	if cfg.Kind == KindMock {
		return e, nil
	}
	if creds.APIKey == "" {
		e.log.Warn("no API key configured, calls will degrade to fallbacks")
		return e, nil
	}

	b, err := newBackend(ctx, cfg, creds)
	if err != nil {
		return nil, err
	}
	e.backend = b
	if cfg.Breaker != nil {
		return WithCircuitBreaker(e, resilience.NewCircuitBreaker(*cfg.Breaker)), nil
	}
	return e, nil
}

func newBackend(ctx context.Context, cfg Config, creds Credentials) (backend, error) {
	switch cfg.Kind {
	case KindOpenRouter:
		opts := []openrouter.Option{openrouter.WithAppInfo(cfg.AppURL, cfg.AppName)}
		if creds.BaseURL != "" {
			opts = append(opts, openrouter.WithBaseURL(creds.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, openrouter.WithTimeout(cfg.Timeout))
		}
		if creds.RateLimit > 0 {
			opts = append(opts, openrouter.WithRateLimit(creds.RateLimit, 1))
		}
		return &openRouterBackend{client: openrouter.NewClient(creds.APIKey, opts...)}, nil

	case KindGemini:
		gc := &genai.ClientConfig{
			APIKey:  creds.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if creds.BaseURL != "" {
			gc.HTTPOptions.BaseURL = creds.BaseURL
		}
		if cfg.Timeout > 0 {
			gc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		}
		client, err := genai.NewClient(ctx, gc)
		if err != nil {
			return nil, eris.Wrap(err, "provider: create gemini client")
		}
		return &geminiBackend{models: client.Models}, nil

	case KindAnthropic:
		opts := []anthropic.Option{anthropic.WithMaxRetries(0)}
		if creds.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(creds.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, anthropic.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		return &anthropicBackend{client: anthropic.NewClient(creds.APIKey, opts...)}, nil
	}
	return nil, eris.Errorf("provider: no backend for kind %q", cfg.Kind)
}

// WithModel returns p scoped to modelID for task, keeping its kind. Providers
// not built by New are returned unchanged.
func WithModel(p Provider, task model.Task, modelID string) Provider {
	if modelID == "" {
		return p
	}
	switch v := p.(type) {
	case *engine:
		return v.withModel(task, modelID)
	default:
		return p
	}
}
