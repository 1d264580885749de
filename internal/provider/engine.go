package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/seo-pipeline/internal/cost"
	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/prompts"
	"github.com/sells-group/seo-pipeline/internal/tmpl"
)

// completion is one text request to a backend.
type completion struct {
	Task   model.Task
	Model  string
	System string
	User   string
	JSON   bool
}

// reply is a backend answer with its token counts.
type reply struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type imageRequest struct {
	Model  string
	System string
	Prompt string
	Size   ImageSize
}

type imageReply struct {
	Image model.GeneratedImage
	reply
}

// backend is the wire-level half of a provider. Implementations report
// non-2xx answers with upstreamError.
type backend interface {
	complete(ctx context.Context, req completion) (*reply, error)
	image(ctx context.Context, req imageRequest) (*imageReply, error)
}

// nonJSONMarkers flag model families that cannot return structured text.
var nonJSONMarkers = []string{"-image", "dall-e", "tts", "embedding", "whisper"}

// engine implements Provider on top of a backend. A nil backend means the
// provider runs offline: mock providers answer with canned output, the others
// degrade because they lack credentials.
type engine struct {
	kind    Kind
	backend backend
	models  map[model.Task]string
	costs   *cost.Calculator
	timeout time.Duration
	log     *zap.Logger
}

func (e *engine) Kind() Kind { return e.kind }

func (e *engine) Model(task model.Task) string {
	if m := e.models[task]; m != "" {
		return m
	}
	return DefaultModels(e.kind)[task]
}

func (e *engine) withModel(task model.Task, modelID string) *engine {
	clone := *e
	clone.models = make(map[model.Task]string, len(e.models)+1)
	for k, v := range e.models {
		clone.models[k] = v
	}
	clone.models[task] = modelID
	return &clone
}

func (e *engine) offline() bool { return e.backend == nil }

func (e *engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *engine) renderPrompts(task model.Task, vars map[string]any, o *Override) (string, string) {
	d := prompts.Default(task)
	system := tmpl.Render(d.System, vars)
	user := tmpl.Render(d.User, vars)
	if o != nil && o.SystemPrompt != nil {
		system = *o.SystemPrompt
	}
	if o != nil && o.UserPrompt != nil {
		user = *o.UserPrompt
	}
	return system, user
}

func (e *engine) checkModel(task model.Task, modelID string) error {
	lower := strings.ToLower(modelID)
	for _, marker := range nonJSONMarkers {
		if strings.Contains(lower, marker) {
			return &IncompatibleModelError{Provider: e.kind, Task: task, Model: modelID, Marker: marker}
		}
	}
	return nil
}

func (e *engine) usage(modelID string, r *reply) *model.AiUsage {
	if e.kind == KindMock {
		return nil
	}
	return e.costs.Usage(modelID, r.PromptTokens, r.CompletionTokens, r.TotalTokens)
}

// runJSON drives one structured task: render, call, two-step parse, and
// fall back to the task default unless JSON is forced.
func runJSON[T any](ctx context.Context, e *engine, task model.Task, vars map[string]any, o *Override, fallback func() T) (*Result[T], error) {
	modelID := e.Model(task)
	res := &Result[T]{Provider: e.kind, Model: modelID}

	if err := e.checkModel(task, modelID); err != nil {
		return nil, err
	}
	system, user := e.renderPrompts(task, vars, o)

	if e.offline() {
		res.Value = fallback()
		raw, _ := json.Marshal(res.Value)
		res.Raw = string(raw)
		if e.kind != KindMock {
			res.Fallback, res.Degraded, res.Warning = true, true, ErrMissingAPIKey
			e.log.Warn("provider not configured, using fallback", zap.String("task", string(task)))
		}
		return res, nil
	}

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	r, err := e.backend.complete(callCtx, completion{
		Task:   task,
		Model:  modelID,
		System: system,
		User:   user,
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}
	if r.Model != "" {
		res.Model = r.Model
	}
	res.Raw = r.Text
	res.Usage = e.usage(modelID, r)

	value, err := parseJSON[T](r.Text)
	if err != nil {
		if o != nil && o.ForceJSON {
			return nil, &UnparsableResponseError{Provider: e.kind, Task: task, Preview: preview(r.Text), Err: err}
		}
		e.log.Warn("unparsable response, using fallback",
			zap.String("task", string(task)),
			zap.String("model", res.Model),
			zap.Error(err),
		)
		res.Value, res.Fallback = fallback(), true
		return res, nil
	}
	res.Value = value
	return res, nil
}

func (e *engine) ScanWebsite(ctx context.Context, in ScanInput, o *Override) (*Result[model.ScanResult], error) {
	res, err := runJSON(ctx, e, model.TaskScanWebsite, mergeVars(in.vars(), o), o, func() model.ScanResult {
		return fallbackScan(in)
	})
	if err == nil && res.Value.URL == "" {
		res.Value.URL = in.URL
	}
	return res, err
}

func (e *engine) AnalyzeBusiness(ctx context.Context, in AnalyzeInput, o *Override) (*Result[model.BusinessProfile], error) {
	return runJSON(ctx, e, model.TaskAnalyzeBusiness, mergeVars(in.vars(), o), o, func() model.BusinessProfile {
		return fallbackProfile(in)
	})
}

func (e *engine) BuildSeoStrategy(ctx context.Context, in StrategyInput, o *Override) (*Result[model.SeoStrategy], error) {
	res, err := runJSON(ctx, e, model.TaskBuildSeoStrategy, mergeVars(in.vars(), o), o, func() model.SeoStrategy {
		return fallbackStrategy(in)
	})
	if err == nil && res.Value.TotalClusters == 0 {
		res.Value.TotalClusters = len(res.Value.TopicClusters)
	}
	return res, err
}

func (e *engine) GenerateArticle(ctx context.Context, in ArticleInput, o *Override) (*Result[model.ArticleDraft], error) {
	return runJSON(ctx, e, model.TaskGenerateArticle, mergeVars(in.vars(), o), o, func() model.ArticleDraft {
		return fallbackArticle(in)
	})
}

func (e *engine) GenerateImage(ctx context.Context, in ImageInput, o *Override) (*Result[model.GeneratedImage], error) {
	modelID := e.Model(model.TaskGenerateImage)
	res := &Result[model.GeneratedImage]{Provider: e.kind, Model: modelID}
	system, user := e.renderPrompts(model.TaskGenerateImage, mergeVars(in.vars(), o), o)

	if e.offline() {
		res.Value = placeholderImage(in.Size)
		if e.kind != KindMock {
			res.Fallback, res.Degraded, res.Warning = true, true, ErrMissingAPIKey
		}
		return res, nil
	}

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	r, err := e.backend.image(callCtx, imageRequest{Model: modelID, System: system, Prompt: user, Size: in.Size})
	if err != nil {
		return nil, err
	}
	if len(r.Image.Data) == 0 {
		return nil, ErrNoImageData
	}
	if r.Image.Width == 0 {
		r.Image.Width, r.Image.Height = in.Size.Dimensions()
	}
	res.Value = r.Image
	res.Raw = r.Text
	res.Usage = e.usage(modelID, &r.reply)
	return res, nil
}

func (e *engine) Chat(ctx context.Context, in ChatInput, o *Override) (*Result[string], error) {
	modelID := e.Model(model.TaskChat)
	res := &Result[string]{Provider: e.kind, Model: modelID}
	system, user := e.renderPrompts(model.TaskChat, mergeVars(in.vars(), o), o)

	if e.offline() {
		res.Value = cannedChat(in)
		res.Raw = res.Value
		if e.kind != KindMock {
			res.Fallback, res.Degraded, res.Warning = true, true, ErrMissingAPIKey
		}
		return res, nil
	}

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	r, err := e.backend.complete(callCtx, completion{
		Task:   model.TaskChat,
		Model:  modelID,
		System: system,
		User:   user,
		JSON:   o != nil && o.ForceJSON,
	})
	if err != nil {
		return nil, err
	}
	res.Value, res.Raw = r.Text, r.Text
	res.Usage = e.usage(modelID, r)
	return res, nil
}
