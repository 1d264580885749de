package model

import (
	"encoding/json"
	"time"
)

// CallStatus is the outcome recorded for one AI invocation.
type CallStatus string

const (
	CallStatusSuccess CallStatus = "SUCCESS"
	CallStatusError   CallStatus = "ERROR"
)

// AiUsage reports token consumption and estimated cost of one call.
type AiUsage struct {
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	TotalCost        float64 `json:"totalCost"`
	Currency         string  `json:"currency"`
}

// PromptConfig is a per-task override. Empty fields mean "use the default".
type PromptConfig struct {
	Task         Task      `json:"task" yaml:"task"`
	SystemPrompt string    `json:"systemPrompt,omitempty" yaml:"system_prompt"`
	UserPrompt   string    `json:"userPrompt,omitempty" yaml:"user_prompt"`
	Provider     string    `json:"provider,omitempty" yaml:"provider"`
	Model        string    `json:"model,omitempty" yaml:"model"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

// AiCallLog is the audit record of one provider invocation.
type AiCallLog struct {
	ID             string          `json:"id"`
	WebsiteID      string          `json:"website_id,omitempty"`
	Task           Task            `json:"task"`
	Provider       string          `json:"provider"`
	Model          string          `json:"model"`
	Variables      map[string]any  `json:"variables,omitempty"`
	SystemPrompt   string          `json:"systemPrompt"`
	UserPrompt     string          `json:"userPrompt"`
	ResponseRaw    string          `json:"responseRaw,omitempty"`
	ResponseParsed json.RawMessage `json:"responseParsed,omitempty"`
	Status         CallStatus      `json:"status"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	Usage          *AiUsage        `json:"usage,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
