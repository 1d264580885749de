// Package resolver picks the prompts and the provider used for one task. A
// per-task override may replace the system prompt, the user prompt, the
// provider kind and the model; every field left empty falls back to the
// built-in default on its own.
package resolver

import (
	"context"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/prompts"
	"github.com/sells-group/seo-pipeline/internal/provider"
)

// OverrideSource returns the stored override for a task, or nil when there is
// none.
type OverrideSource interface {
	GetPromptOverride(ctx context.Context, task model.Task) (*model.PromptConfig, error)
}

// Resolution is the effective configuration of one task.
type Resolution struct {
	Task model.Task
	// SystemPrompt and UserPrompt are templates, not yet rendered.
	SystemPrompt string
	UserPrompt   string
	Provider     provider.Provider
	// Overridden reports whether any field came from an override.
	Overridden bool
}

// Model is the model the resolved provider uses for the task.
func (r *Resolution) Model() string {
	return r.Provider.Model(r.Task)
}

type cacheKey struct {
	kind  provider.Kind
	task  model.Task
	model string
}

// Resolver resolves tasks against stored and file-based overrides.
type Resolver struct {
	base    provider.Provider
	baseCfg provider.Config
	source  OverrideSource
	file    map[model.Task]model.PromptConfig
	newFn   func(context.Context, provider.Config) (provider.Provider, error)
	log     *zap.Logger

	mu    sync.Mutex
	cache map[cacheKey]provider.Provider
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFileOverrides adds overrides consulted after the store.
func WithFileOverrides(overrides map[model.Task]model.PromptConfig) Option {
	return func(r *Resolver) { r.file = overrides }
}

// New creates a Resolver. base is returned unchanged for tasks with no
// provider or model override; baseCfg is the configuration it was built from
// and is reused when an override switches kind. source may be nil.
func New(base provider.Provider, baseCfg provider.Config, source OverrideSource, opts ...Option) *Resolver {
	r := &Resolver{
		base:    base,
		baseCfg: baseCfg,
		source:  source,
		newFn:   provider.New,
		log:     zap.L().With(zap.String("component", "resolver")),
		cache:   make(map[cacheKey]provider.Provider),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the prompts and provider for task. Failing override lookups
// are logged and treated as no override.
func (r *Resolver) Resolve(ctx context.Context, task model.Task) (*Resolution, error) {
	if !task.Valid() {
		return nil, eris.Errorf("resolver: unknown task %q", task)
	}

	d := prompts.Default(task)
	res := &Resolution{Task: task, SystemPrompt: d.System, UserPrompt: d.User, Provider: r.base}

	var stored *model.PromptConfig
	if r.source != nil {
		pc, err := r.source.GetPromptOverride(ctx, task)
		if err != nil {
			r.log.Warn("prompt override lookup failed, using defaults",
				zap.String("task", string(task)), zap.Error(err))
		} else {
			stored = pc
		}
	}
	ov := merge(task, stored, r.fileOverride(task))

	if ov.SystemPrompt != "" {
		res.SystemPrompt, res.Overridden = ov.SystemPrompt, true
	}
	if ov.UserPrompt != "" {
		res.UserPrompt, res.Overridden = ov.UserPrompt, true
	}
	if ov.Provider == "" && ov.Model == "" {
		return res, nil
	}
	res.Overridden = true
	res.Provider = r.providerFor(ctx, task, provider.Kind(ov.Provider), ov.Model)
	return res, nil
}

func (r *Resolver) fileOverride(task model.Task) *model.PromptConfig {
	if pc, ok := r.file[task]; ok {
		return &pc
	}
	return nil
}

// merge takes each field from the first override that sets it.
func merge(task model.Task, layers ...*model.PromptConfig) model.PromptConfig {
	out := model.PromptConfig{Task: task}
	for _, l := range layers {
		if l == nil {
			continue
		}
		if out.SystemPrompt == "" {
			out.SystemPrompt = l.SystemPrompt
		}
		if out.UserPrompt == "" {
			out.UserPrompt = l.UserPrompt
		}
		if out.Provider == "" {
			out.Provider = l.Provider
		}
		if out.Model == "" {
			out.Model = l.Model
		}
	}
	return out
}

func (r *Resolver) providerFor(ctx context.Context, task model.Task, kind provider.Kind, modelID string) provider.Provider {
	if kind != "" && !kind.Valid() {
		r.log.Warn("ignoring unknown provider override",
			zap.String("task", string(task)), zap.String("provider", string(kind)))
		kind = ""
	}
	if kind == "" || kind == r.base.Kind() {
		return provider.WithModel(r.base, task, modelID)
	}

	key := cacheKey{kind: kind, task: task, model: modelID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[key]; ok {
		return p
	}

	cfg := r.baseCfg
	cfg.Kind = kind
	cfg.Models = nil
	if modelID != "" {
		cfg.Models = map[model.Task]string{task: modelID}
	}
	p, err := r.newFn(ctx, cfg)
	if err != nil {
		r.log.Error("building override provider failed, using default",
			zap.String("task", string(task)), zap.String("provider", string(kind)), zap.Error(err))
		return provider.WithModel(r.base, task, "")
	}
	r.cache[key] = p
	return p
}

type overrideFile struct {
	Prompts []model.PromptConfig `yaml:"prompts"`
}

// LoadFile reads a YAML file of per-task overrides:
//
//	prompts:
//	  - task: scan_website
//	    user_prompt: "Scan {{url}}"
//	    model: openai/gpt-4o
func LoadFile(path string) (map[model.Task]model.PromptConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: read %s", path)
	}
	var f overrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "resolver: parse %s", path)
	}
	out := make(map[model.Task]model.PromptConfig, len(f.Prompts))
	for _, pc := range f.Prompts {
		if !pc.Task.Valid() {
			return nil, eris.Errorf("resolver: %s: unknown task %q", path, pc.Task)
		}
		out[pc.Task] = pc
	}
	return out, nil
}
