package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

// --- Websites ---

func TestSQLite_Website_UpsertAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertWebsite(ctx, model.Website{ID: "w1", URL: "https://acme.com", Name: "Acme"}))

	w, err := st.GetWebsite(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "https://acme.com", w.URL)
	assert.Equal(t, "Acme", w.Name)
	assert.Nil(t, w.LastScannedAt)

	require.NoError(t, st.UpsertWebsite(ctx, model.Website{ID: "w1", URL: "https://acme.io", Name: "Acme"}))
	w, err = st.GetWebsite(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.io", w.URL)
}

func TestSQLite_Website_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	w, err := st.GetWebsite(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestSQLite_TouchScanned(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertWebsite(ctx, model.Website{ID: "w1", URL: "https://acme.com"}))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.TouchScanned(ctx, "w1", at))

	w, err := st.GetWebsite(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, w.LastScannedAt)
	assert.True(t, w.LastScannedAt.Equal(at))

	err = st.TouchScanned(ctx, "missing", at)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "website not found")
}

// --- Artifacts ---

func TestSQLite_Artifacts_IndependentColumns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	scan := model.ScanResult{URL: "https://acme.com", Title: "Acme", Keywords: []string{"tools"}}
	require.NoError(t, st.UpsertScanResult(ctx, "w1", scan))

	profile, err := st.GetBusinessProfile(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, profile, "profile column is still NULL")

	require.NoError(t, st.UpsertBusinessProfile(ctx, "w1", model.BusinessProfile{
		Name:     "Acme",
		Audience: []string{"Contractors"},
	}))

	gotScan, err := st.GetScanResult(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, gotScan)
	assert.Equal(t, scan, *gotScan, "writing the profile must not clobber the scan result")

	gotProfile, err := st.GetBusinessProfile(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, gotProfile)
	assert.Equal(t, []string{"Contractors"}, gotProfile.Audience)
}

func TestSQLite_Artifacts_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertSeoStrategy(ctx, "w1", model.SeoStrategy{TotalClusters: 1}))
	require.NoError(t, st.UpsertSeoStrategy(ctx, "w1", model.SeoStrategy{
		TotalClusters: 2,
		TopicClusters: []model.TopicCluster{{PillarPage: "Guide"}, {PillarPage: "FAQ"}},
	}))

	got, err := st.GetSeoStrategy(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.TotalClusters)
	assert.Len(t, got.TopicClusters, 2)
}

func TestSQLite_Artifacts_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	scan, err := st.GetScanResult(ctx, "none")
	require.NoError(t, err)
	assert.Nil(t, scan)

	strategy, err := st.GetSeoStrategy(ctx, "none")
	require.NoError(t, err)
	assert.Nil(t, strategy)
}

// --- Article drafts ---

func TestSQLite_ArticleDrafts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := &model.ArticleDraft{
		WebsiteID: "w1",
		Title:     "What to know about drills",
		Outline:   []string{"Intro", "Types"},
		Keywords:  []string{"drills"},
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, st.CreateArticleDraft(ctx, first))
	assert.NotEmpty(t, first.ID)

	second := &model.ArticleDraft{WebsiteID: "w1", Title: "Second"}
	require.NoError(t, st.CreateArticleDraft(ctx, second))
	require.NoError(t, st.CreateArticleDraft(ctx, &model.ArticleDraft{WebsiteID: "w2", Title: "Other"}))

	drafts, err := st.ListArticleDrafts(ctx, "w1", 0)
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "Second", drafts[0].Title, "newest first")
	assert.Equal(t, []string{"Intro", "Types"}, drafts[1].Outline)
	assert.Empty(t, drafts[0].Outline)

	limited, err := st.ListArticleDrafts(ctx, "w1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- Prompt overrides ---

func TestSQLite_PromptOverride(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	pc, err := st.GetPromptOverride(ctx, model.TaskScanWebsite)
	require.NoError(t, err)
	assert.Nil(t, pc)

	require.NoError(t, st.UpsertPromptOverride(ctx, model.PromptConfig{
		Task:       model.TaskScanWebsite,
		UserPrompt: "Scan {{url}}",
		Model:      "openai/gpt-4o",
	}))
	require.NoError(t, st.UpsertPromptOverride(ctx, model.PromptConfig{
		Task:       model.TaskScanWebsite,
		UserPrompt: "Scan {{url}} carefully",
		Provider:   "gemini",
	}))

	pc, err = st.GetPromptOverride(ctx, model.TaskScanWebsite)
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, "Scan {{url}} carefully", pc.UserPrompt)
	assert.Equal(t, "gemini", pc.Provider)
	assert.Empty(t, pc.Model, "upsert replaces the whole row")
}

// --- Call log ---

func TestSQLite_CallLog_AppendAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ok := &model.AiCallLog{
		WebsiteID:      "w1",
		Task:           model.TaskScanWebsite,
		Provider:       "openrouter",
		Model:          "perplexity/sonar",
		Variables:      map[string]any{"url": "https://acme.com"},
		UserPrompt:     "Scan https://acme.com",
		ResponseRaw:    `{"url":"https://acme.com"}`,
		ResponseParsed: json.RawMessage(`{"url":"https://acme.com"}`),
		Status:         model.CallStatusSuccess,
		Usage:          &model.AiUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, TotalCost: 0.01, Currency: "USD"},
		CreatedAt:      time.Now().UTC().Add(-time.Second),
	}
	require.NoError(t, st.AppendCallLog(ctx, ok))
	assert.NotEmpty(t, ok.ID)

	failed := &model.AiCallLog{
		WebsiteID:    "w1",
		Task:         model.TaskAnalyzeBusiness,
		Provider:     "openrouter",
		Status:       model.CallStatusError,
		ErrorMessage: "openrouter: unexpected status 500",
	}
	require.NoError(t, st.AppendCallLog(ctx, failed))

	all, err := st.ListCallLogs(ctx, CallLogFilter{WebsiteID: "w1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.TaskAnalyzeBusiness, all[0].Task)
	assert.Nil(t, all[0].Usage)
	assert.Nil(t, all[0].ResponseParsed)

	scans, err := st.ListCallLogs(ctx, CallLogFilter{Task: model.TaskScanWebsite})
	require.NoError(t, err)
	require.Len(t, scans, 1)
	got := scans[0]
	assert.Equal(t, "https://acme.com", got.Variables["url"])
	require.NotNil(t, got.Usage)
	assert.Equal(t, 15, got.Usage.TotalTokens)
	assert.JSONEq(t, `{"url":"https://acme.com"}`, string(got.ResponseParsed))

	errs, err := st.ListCallLogs(ctx, CallLogFilter{Status: model.CallStatusError})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "openrouter: unexpected status 500", errs[0].ErrorMessage)
}

// --- Dead-letter queue ---

func TestSQLite_DLQ(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, resilience.DLQEntry{
		Queue:     "scan",
		JobID:     "j1",
		WebsiteID: "w1",
		Payload:   json.RawMessage(`{"websiteId":"w1"}`),
		Error:     "unparsable response",
		Attempts:  1,
	}))
	require.NoError(t, st.EnqueueDLQ(ctx, resilience.DLQEntry{
		Queue:     "analyze",
		JobID:     "j2",
		Error:     "upstream 503",
		ErrorType: "transient",
		Attempts:  3,
	}))

	all, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scans, err := st.ListDLQ(ctx, resilience.DLQFilter{Queue: "scan"})
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, "permanent", scans[0].ErrorType)
	assert.JSONEq(t, `{"websiteId":"w1"}`, string(scans[0].Payload))

	transient, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: "transient"})
	require.NoError(t, err)
	require.Len(t, transient, 1)
	assert.Equal(t, 3, transient[0].Attempts)
}
