// Package provider normalizes heterogeneous LLM backends behind one
// capability interface. A Provider is built once from Config and is safe for
// concurrent use: every call returns its own Result and nothing about a call
// is kept on the provider.
package provider

import (
	"context"
	"maps"

	"github.com/sells-group/seo-pipeline/internal/model"
)

// Kind identifies a backend implementation.
type Kind string

const (
	KindOpenRouter Kind = "openrouter"
	KindGemini     Kind = "gemini"
	KindAnthropic  Kind = "anthropic"
	KindMock       Kind = "mock"
)

// Kinds lists every supported backend.
func Kinds() []Kind {
	return []Kind{KindOpenRouter, KindGemini, KindAnthropic, KindMock}
}

// Valid reports whether k is a supported backend.
func (k Kind) Valid() bool {
	switch k {
	case KindOpenRouter, KindGemini, KindAnthropic, KindMock:
		return true
	default:
		return false
	}
}

// Provider is the capability set every backend exposes.
type Provider interface {
	Kind() Kind
	// Model returns the model identifier used for task.
	Model(task model.Task) string

	ScanWebsite(ctx context.Context, in ScanInput, o *Override) (*Result[model.ScanResult], error)
	AnalyzeBusiness(ctx context.Context, in AnalyzeInput, o *Override) (*Result[model.BusinessProfile], error)
	BuildSeoStrategy(ctx context.Context, in StrategyInput, o *Override) (*Result[model.SeoStrategy], error)
	GenerateArticle(ctx context.Context, in ArticleInput, o *Override) (*Result[model.ArticleDraft], error)
	GenerateImage(ctx context.Context, in ImageInput, o *Override) (*Result[model.GeneratedImage], error)
	Chat(ctx context.Context, in ChatInput, o *Override) (*Result[string], error)
}

// Override replaces parts of a call. Nil prompts mean "render the built-in
// template"; non-nil prompts are sent as given.
type Override struct {
	SystemPrompt *string
	UserPrompt   *string
	// Variables are merged over the input's own variables before the
	// built-in templates are rendered.
	Variables map[string]any
	// ForceJSON turns an unparsable answer into an error instead of the
	// task fallback.
	ForceJSON bool
}

// Result is the outcome of one call.
type Result[T any] struct {
	Value    T
	Raw      string
	Usage    *model.AiUsage
	Provider Kind
	Model    string
	// Fallback is set when Value is the task's default instead of a parsed
	// upstream answer.
	Fallback bool
	// Degraded is set when no upstream call was made because the provider is
	// not configured. Warning carries the reason.
	Degraded bool
	Warning  error
}

// ScanInput is the input of ScanWebsite.
type ScanInput struct {
	URL string
	// Page is an optional homepage snapshot exposed to the prompt.
	Page any
}

func (in ScanInput) vars() map[string]any {
	v := map[string]any{"url": in.URL, "page": ""}
	if in.Page != nil {
		v["page"] = in.Page
	}
	return v
}

// AnalyzeInput is the input of AnalyzeBusiness.
type AnalyzeInput struct {
	URL        string
	ScanResult *model.ScanResult
}

func (in AnalyzeInput) vars() map[string]any {
	return map[string]any{"url": in.URL, "scanResult": in.ScanResult}
}

// StrategyInput is the input of BuildSeoStrategy.
type StrategyInput struct {
	BusinessProfile *model.BusinessProfile
}

func (in StrategyInput) vars() map[string]any {
	return map[string]any{"businessProfile": in.BusinessProfile}
}

// ArticleInput is the input of GenerateArticle.
type ArticleInput struct {
	BusinessProfile *model.BusinessProfile
	Strategy        *model.SeoStrategy
	Pillar          model.TopicCluster
	Cluster         model.SupportingArticle
}

func (in ArticleInput) vars() map[string]any {
	return map[string]any{
		"businessProfile": in.BusinessProfile,
		"strategy":        in.Strategy,
		"pillar":          in.Pillar,
		"cluster":         in.Cluster,
	}
}

// ImageInput is the input of GenerateImage.
type ImageInput struct {
	Prompt string
	Size   ImageSize
}

func (in ImageInput) vars() map[string]any {
	return map[string]any{"prompt": in.Prompt, "size": string(in.Size)}
}

// ChatInput is the input of Chat.
type ChatInput struct {
	Message string
}

func (in ChatInput) vars() map[string]any {
	return map[string]any{"message": in.Message}
}

func mergeVars(base map[string]any, o *Override) map[string]any {
	if o == nil || len(o.Variables) == 0 {
		return base
	}
	out := maps.Clone(base)
	maps.Copy(out, o.Variables)
	return out
}
