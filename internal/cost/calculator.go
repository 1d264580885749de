package cost

import "github.com/sells-group/seo-pipeline/internal/model"

// Currency is the currency every rate is expressed in.
const Currency = "USD"

// Rates holds per-model token pricing keyed by model identifier.
type Rates struct {
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for AI usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Cost computes the USD cost of a call. Unknown models cost 0: the figure is
// an estimate for reporting, not a billing amount.
func (c *Calculator) Cost(model string, promptTokens, completionTokens int) float64 {
	if c == nil {
		return 0
	}
	rate, ok := c.rates.Models[model]
	if !ok {
		return 0
	}
	inCost := (float64(promptTokens) / 1e6) * rate.Input
	outCost := (float64(completionTokens) / 1e6) * rate.Output
	return inCost + outCost
}

// Usage builds the usage record for a call. A zero totalTokens is derived
// from the prompt and completion counts.
func (c *Calculator) Usage(modelID string, promptTokens, completionTokens, totalTokens int) *model.AiUsage {
	if totalTokens == 0 {
		totalTokens = promptTokens + completionTokens
	}
	return &model.AiUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
		TotalCost:        c.Cost(modelID, promptTokens, completionTokens),
		Currency:         Currency,
	}
}

// Known reports whether a rate exists for model.
func (c *Calculator) Known(model string) bool {
	if c == nil {
		return false
	}
	_, ok := c.rates.Models[model]
	return ok
}

// Merge returns a copy of r with every rate in overrides applied on top.
func (r Rates) Merge(overrides map[string]ModelRate) Rates {
	out := Rates{Models: make(map[string]ModelRate, len(r.Models)+len(overrides))}
	for k, v := range r.Models {
		out.Models[k] = v
	}
	for k, v := range overrides {
		out.Models[k] = v
	}
	return out
}

// DefaultRates returns the default pricing table.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			// OpenRouter identifiers
			"openai/gpt-4o":               {Input: 2.50, Output: 10.00},
			"openai/gpt-4o-mini":          {Input: 0.15, Output: 0.60},
			"openai/gpt-4.1-mini":         {Input: 0.40, Output: 1.60},
			"anthropic/claude-sonnet-4.5": {Input: 3.00, Output: 15.00},
			"anthropic/claude-haiku-4.5":  {Input: 1.00, Output: 5.00},
			"google/gemini-2.5-flash":     {Input: 0.30, Output: 2.50},
			"perplexity/sonar":            {Input: 1.00, Output: 1.00},
			"perplexity/sonar-pro":        {Input: 3.00, Output: 15.00},

			// Gemini API identifiers
			"gemini-2.5-flash":       {Input: 0.30, Output: 2.50},
			"gemini-2.5-pro":         {Input: 1.25, Output: 10.00},
			"gemini-2.0-flash":       {Input: 0.10, Output: 0.40},
			"gemini-2.5-flash-image": {Input: 0.30, Output: 30.00},

			// Anthropic API identifiers
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
	}
}
