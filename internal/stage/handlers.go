package stage

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/provider"
	"github.com/sells-group/seo-pipeline/internal/queue"
)

// Scan snapshots the homepage, asks the provider for a ScanResult, stores it
// and enqueues analyze.
func (p *Pipeline) Scan(ctx context.Context, job queue.Job) error {
	var pl queue.ScanPayload
	if err := decode(job, &pl); err != nil {
		return err
	}
	site, err := p.deps.Store.GetWebsite(ctx, pl.WebsiteID)
	if err != nil {
		return err
	}
	if site == nil {
		return p.skip(queue.Scan, pl.WebsiteID, "website not found")
	}

	in := provider.ScanInput{URL: site.URL}
	if p.deps.Pages != nil {
		snap, err := p.deps.Pages.Snapshot(ctx, site.URL)
		if err != nil {
			p.log.Warn("homepage snapshot failed, scanning without it",
				zap.String("website_id", site.ID), zap.Error(err))
		} else {
			in.Page = snap
		}
	}
	vars := map[string]any{"url": in.URL, "page": ""}
	if in.Page != nil {
		vars["page"] = in.Page
	}

	out, err := invoke(ctx, p, invocation[model.ScanResult]{
		task:      model.TaskScanWebsite,
		websiteID: site.ID,
		vars:      vars,
		call: func(ctx context.Context, prov provider.Provider, o *provider.Override) (*provider.Result[model.ScanResult], error) {
			return prov.ScanWebsite(ctx, in, o)
		},
	})
	if err != nil {
		return err
	}

	if err := p.deps.Store.UpsertScanResult(ctx, site.ID, out.Value); err != nil {
		return err
	}
	if err := p.deps.Store.TouchScanned(ctx, site.ID, p.deps.Now().UTC()); err != nil {
		return err
	}
	if pl.Debug {
		return nil
	}
	return p.enqueue(ctx, queue.Analyze, site.ID, queue.AnalyzePayload{
		WebsiteID:     site.ID,
		RawScanOutput: out.Raw,
	})
}

// Analyze derives a BusinessProfile from the stored ScanResult and enqueues
// strategy.
func (p *Pipeline) Analyze(ctx context.Context, job queue.Job) error {
	var pl queue.AnalyzePayload
	if err := decode(job, &pl); err != nil {
		return err
	}
	scan, err := p.deps.Store.GetScanResult(ctx, pl.WebsiteID)
	if err != nil {
		return err
	}
	if scan == nil {
		return p.skip(queue.Analyze, pl.WebsiteID, "no scan result")
	}

	url := scan.URL
	if site, err := p.deps.Store.GetWebsite(ctx, pl.WebsiteID); err == nil && site != nil {
		url = site.URL
	}
	in := provider.AnalyzeInput{URL: url, ScanResult: scan}
	vars := map[string]any{"url": url, "scanResult": scan}
	if pl.RawScanOutput != "" {
		vars["rawScanOutput"] = pl.RawScanOutput
	}

	out, err := invoke(ctx, p, invocation[model.BusinessProfile]{
		task:      model.TaskAnalyzeBusiness,
		websiteID: pl.WebsiteID,
		vars:      vars,
		call: func(ctx context.Context, prov provider.Provider, o *provider.Override) (*provider.Result[model.BusinessProfile], error) {
			return prov.AnalyzeBusiness(ctx, in, o)
		},
	})
	if err != nil {
		return err
	}

	if err := p.deps.Store.UpsertBusinessProfile(ctx, pl.WebsiteID, out.Value); err != nil {
		return err
	}
	if pl.Debug {
		return nil
	}
	return p.enqueue(ctx, queue.Strategy, pl.WebsiteID, queue.StrategyPayload{WebsiteID: pl.WebsiteID})
}

// Strategy builds an SeoStrategy from the stored BusinessProfile and
// enqueues article.
func (p *Pipeline) Strategy(ctx context.Context, job queue.Job) error {
	var pl queue.StrategyPayload
	if err := decode(job, &pl); err != nil {
		return err
	}
	profile, err := p.deps.Store.GetBusinessProfile(ctx, pl.WebsiteID)
	if err != nil {
		return err
	}
	if profile == nil {
		return p.skip(queue.Strategy, pl.WebsiteID, "no business profile")
	}

	in := provider.StrategyInput{BusinessProfile: profile}
	out, err := invoke(ctx, p, invocation[model.SeoStrategy]{
		task:      model.TaskBuildSeoStrategy,
		websiteID: pl.WebsiteID,
		vars:      map[string]any{"businessProfile": profile},
		call: func(ctx context.Context, prov provider.Provider, o *provider.Override) (*provider.Result[model.SeoStrategy], error) {
			return prov.BuildSeoStrategy(ctx, in, o)
		},
	})
	if err != nil {
		return err
	}

	if err := p.deps.Store.UpsertSeoStrategy(ctx, pl.WebsiteID, out.Value); err != nil {
		return err
	}
	if pl.Debug {
		return nil
	}
	return p.enqueue(ctx, queue.Article, pl.WebsiteID, queue.ArticlePayload{WebsiteID: pl.WebsiteID})
}

// Article drafts the first supporting article of the stored strategy. It is
// the last stage and enqueues nothing.
func (p *Pipeline) Article(ctx context.Context, job queue.Job) error {
	var pl queue.ArticlePayload
	if err := decode(job, &pl); err != nil {
		return err
	}
	strategy, err := p.deps.Store.GetSeoStrategy(ctx, pl.WebsiteID)
	if err != nil {
		return err
	}
	if strategy == nil {
		return p.skip(queue.Article, pl.WebsiteID, "no seo strategy")
	}
	ref, ok := strategy.FirstCluster()
	if !ok {
		return p.skip(queue.Article, pl.WebsiteID, "strategy has no clusters")
	}
	profile, err := p.deps.Store.GetBusinessProfile(ctx, pl.WebsiteID)
	if err != nil {
		return err
	}

	in := provider.ArticleInput{
		BusinessProfile: profile,
		Strategy:        strategy,
		Pillar:          ref.Pillar,
		Cluster:         ref.Cluster,
	}
	out, err := invoke(ctx, p, invocation[model.ArticleDraft]{
		task:      model.TaskGenerateArticle,
		websiteID: pl.WebsiteID,
		vars: map[string]any{
			"businessProfile": profile,
			"strategy":        strategy,
			"pillar":          ref.Pillar,
			"cluster":         ref.Cluster,
		},
		call: func(ctx context.Context, prov provider.Provider, o *provider.Override) (*provider.Result[model.ArticleDraft], error) {
			return prov.GenerateArticle(ctx, in, o)
		},
	})
	if err != nil {
		return err
	}

	draft := out.Value
	draft.ID = ""
	draft.WebsiteID = pl.WebsiteID
	draft.ArticleID = pl.ArticleID
	draft.PlannedArticleID = pl.PlannedArticleID
	draft.CreatedAt = p.deps.Now().UTC()
	if draft.Title == "" {
		draft.Title = ref.Cluster.Title
	}
	if len(draft.Keywords) == 0 {
		draft.Keywords = ref.Cluster.Keywords
	}
	return p.deps.Store.CreateArticleDraft(ctx, &draft)
}
