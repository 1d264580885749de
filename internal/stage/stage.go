// Package stage implements the four pipeline stages (scan, analyze,
// strategy, article) as queue handlers. Every stage makes at most one
// provider call, persists its artifact and, unless the job is a debug job,
// enqueues the next stage only after the artifact write succeeded.
package stage

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/seo-pipeline/internal/calllog"
	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/queue"
	"github.com/sells-group/seo-pipeline/internal/resolver"
	"github.com/sells-group/seo-pipeline/internal/scrape"
)

// Store is the persistence the stages need.
type Store interface {
	GetWebsite(ctx context.Context, id string) (*model.Website, error)
	TouchScanned(ctx context.Context, id string, at time.Time) error
	GetScanResult(ctx context.Context, websiteID string) (*model.ScanResult, error)
	UpsertScanResult(ctx context.Context, websiteID string, r model.ScanResult) error
	GetBusinessProfile(ctx context.Context, websiteID string) (*model.BusinessProfile, error)
	UpsertBusinessProfile(ctx context.Context, websiteID string, p model.BusinessProfile) error
	GetSeoStrategy(ctx context.Context, websiteID string) (*model.SeoStrategy, error)
	UpsertSeoStrategy(ctx context.Context, websiteID string, s model.SeoStrategy) error
	CreateArticleDraft(ctx context.Context, d *model.ArticleDraft) error
}

// Resolver picks prompts and provider for a task.
type Resolver interface {
	Resolve(ctx context.Context, task model.Task) (*resolver.Resolution, error)
}

// PageFetcher returns a homepage snapshot for the scan prompt.
type PageFetcher interface {
	Snapshot(ctx context.Context, url string) (*scrape.Snapshot, error)
}

// Deps wires a Pipeline.
type Deps struct {
	Store    Store
	Resolver Resolver
	Queue    queue.Publisher
	Calls    *calllog.Recorder
	// Pages is optional; without it the scan prompt gets an empty page.
	Pages PageFetcher
	// ForceJSON turns unparsable provider answers into errors (and thus
	// retries) instead of task fallbacks.
	ForceJSON bool
	Now       func() time.Time
}

// Pipeline holds the stage handlers.
type Pipeline struct {
	deps Deps
	log  *zap.Logger
}

// New creates a Pipeline.
func New(d Deps) *Pipeline {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Calls == nil {
		d.Calls = calllog.NewRecorder(nil, false)
	}
	return &Pipeline{deps: d, log: zap.L().With(zap.String("component", "stage"))}
}

// Register installs the handlers for queues on w. No queues means all.
func (p *Pipeline) Register(w *queue.Worker, queues ...queue.Name) {
	if len(queues) == 0 {
		queues = queue.Names()
	}
	for _, q := range queues {
		w.Handle(q, p.Handler(q))
	}
}

// Handler returns the handler for queue q.
func (p *Pipeline) Handler(q queue.Name) queue.Handler {
	switch q {
	case queue.Scan:
		return p.Scan
	case queue.Analyze:
		return p.Analyze
	case queue.Strategy:
		return p.Strategy
	case queue.Article:
		return p.Article
	default:
		return func(context.Context, queue.Job) error {
			return queue.Permanent(eris.Errorf("stage: no handler for queue %q", q))
		}
	}
}

// Trigger enqueues a scan for websiteID and returns without waiting for it.
func Trigger(ctx context.Context, pub queue.Publisher, websiteID string, debug bool) (queue.Job, error) {
	if websiteID == "" {
		return queue.Job{}, eris.New("stage: website id is required")
	}
	job, err := queue.NewJob(queue.Scan, websiteID, queue.ScanPayload{WebsiteID: websiteID, Debug: debug})
	if err != nil {
		return queue.Job{}, err
	}
	if err := pub.Publish(ctx, job); err != nil {
		return queue.Job{}, eris.Wrapf(err, "stage: enqueue scan for %s", websiteID)
	}
	return job, nil
}

// enqueue publishes the next stage's job.
func (p *Pipeline) enqueue(ctx context.Context, q queue.Name, websiteID string, payload any) error {
	job, err := queue.NewJob(q, websiteID, payload)
	if err != nil {
		return err
	}
	if err := p.deps.Queue.Publish(ctx, job); err != nil {
		return eris.Wrapf(err, "stage: enqueue %s for %s", q, websiteID)
	}
	p.log.Debug("enqueued next stage",
		zap.String("queue", string(q)),
		zap.String("website_id", websiteID),
		zap.String("job_id", job.ID),
	)
	return nil
}

// skip logs a sequencing gap: the job ends without retry or downstream work.
func (p *Pipeline) skip(stage queue.Name, websiteID, reason string) error {
	p.log.Warn("skipping job",
		zap.String("stage", string(stage)),
		zap.String("website_id", websiteID),
		zap.String("reason", reason),
	)
	return nil
}

func decode(job queue.Job, v any) error {
	if err := job.Decode(v); err != nil {
		return queue.Permanent(err)
	}
	return nil
}
