package stage

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/seo-pipeline/internal/calllog"
	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/provider"
	"github.com/sells-group/seo-pipeline/internal/tmpl"
)

// invocation is one provider call made by a stage.
type invocation[T any] struct {
	task      model.Task
	websiteID string
	vars      map[string]any
	call      func(ctx context.Context, p provider.Provider, o *provider.Override) (*provider.Result[T], error)
}

// invoke resolves and renders the prompts, calls the provider and records
// the call. A degraded result is logged as an error entry but still returned.
func invoke[T any](ctx context.Context, p *Pipeline, in invocation[T]) (*provider.Result[T], error) {
	res, err := p.deps.Resolver.Resolve(ctx, in.task)
	if err != nil {
		return nil, eris.Wrapf(err, "stage: resolve %s", in.task)
	}

	system := tmpl.Render(res.SystemPrompt, in.vars)
	user := tmpl.Render(res.UserPrompt, in.vars)
	entry := calllog.Call{
		WebsiteID:    in.websiteID,
		Task:         in.task,
		Provider:     string(res.Provider.Kind()),
		Model:        res.Model(),
		Variables:    in.vars,
		SystemPrompt: system,
		UserPrompt:   user,
	}

	out, err := in.call(ctx, res.Provider, &provider.Override{
		SystemPrompt: &system,
		UserPrompt:   &user,
		ForceJSON:    p.deps.ForceJSON,
	})
	if err != nil {
		p.deps.Calls.Failure(ctx, entry, err)
		return nil, eris.Wrapf(err, "stage: %s", in.task)
	}

	if out.Model != "" {
		entry.Model = out.Model
	}
	if out.Degraded {
		p.log.Error("provider degraded, continuing with fallback",
			zap.String("task", string(in.task)),
			zap.String("website_id", in.websiteID),
			zap.Error(out.Warning),
		)
		p.deps.Calls.Failure(ctx, entry, out.Warning)
		return out, nil
	}
	if out.Fallback {
		p.log.Warn("provider answer unusable, continuing with fallback",
			zap.String("task", string(in.task)),
			zap.String("website_id", in.websiteID),
		)
	}
	p.deps.Calls.Success(ctx, entry, out.Raw, out.Value, out.Usage)
	return out, nil
}
