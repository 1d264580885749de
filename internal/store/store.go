// Package store persists websites, pipeline artifacts, prompt overrides, the
// AI call log and dead-lettered jobs. Every artifact is keyed by website id.
// Getters return (nil, nil) when the record does not exist.
package store

import (
	"context"
	"time"

	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/resilience"
)

// CallLogFilter specifies criteria for listing call log entries.
type CallLogFilter struct {
	WebsiteID string           `json:"website_id,omitempty"`
	Task      model.Task       `json:"task,omitempty"`
	Status    model.CallStatus `json:"status,omitempty"`
	Limit     int              `json:"limit,omitempty"`
}

// Store defines the persistence interface for the SEO pipeline.
type Store interface {
	// Websites
	GetWebsite(ctx context.Context, id string) (*model.Website, error)
	UpsertWebsite(ctx context.Context, w model.Website) error
	TouchScanned(ctx context.Context, id string, at time.Time) error

	// Stage artifacts (one per website, overwritten on re-run)
	GetScanResult(ctx context.Context, websiteID string) (*model.ScanResult, error)
	UpsertScanResult(ctx context.Context, websiteID string, r model.ScanResult) error
	GetBusinessProfile(ctx context.Context, websiteID string) (*model.BusinessProfile, error)
	UpsertBusinessProfile(ctx context.Context, websiteID string, p model.BusinessProfile) error
	GetSeoStrategy(ctx context.Context, websiteID string) (*model.SeoStrategy, error)
	UpsertSeoStrategy(ctx context.Context, websiteID string, s model.SeoStrategy) error

	// Article drafts (append-only)
	CreateArticleDraft(ctx context.Context, d *model.ArticleDraft) error
	ListArticleDrafts(ctx context.Context, websiteID string, limit int) ([]model.ArticleDraft, error)

	// Prompt overrides
	GetPromptOverride(ctx context.Context, task model.Task) (*model.PromptConfig, error)
	UpsertPromptOverride(ctx context.Context, cfg model.PromptConfig) error

	// AI call log
	AppendCallLog(ctx context.Context, entry *model.AiCallLog) error
	ListCallLogs(ctx context.Context, filter CallLogFilter) ([]model.AiCallLog, error)

	// Dead-letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// artifact columns of website_analysis.
const (
	colScanResult      = "scan_result"
	colBusinessProfile = "business_profile"
	colSeoStrategy     = "seo_strategy"
)

const defaultListLimit = 100

func listLimit(n int) uint64 {
	if n <= 0 {
		return defaultListLimit
	}
	return uint64(n)
}
