package stage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/seo-pipeline/internal/calllog"
	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/provider"
	"github.com/sells-group/seo-pipeline/internal/queue"
	"github.com/sells-group/seo-pipeline/internal/resilience"
	"github.com/sells-group/seo-pipeline/internal/resolver"
	"github.com/sells-group/seo-pipeline/internal/scrape"
)

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	sites    map[string]*model.Website
	scans    map[string]model.ScanResult
	profiles map[string]model.BusinessProfile
	strats   map[string]model.SeoStrategy
	drafts   []model.ArticleDraft
}

func newMemStore(sites ...model.Website) *memStore {
	s := &memStore{
		sites:    make(map[string]*model.Website),
		scans:    make(map[string]model.ScanResult),
		profiles: make(map[string]model.BusinessProfile),
		strats:   make(map[string]model.SeoStrategy),
	}
	for i := range sites {
		w := sites[i]
		s.sites[w.ID] = &w
	}
	return s
}

func (s *memStore) GetWebsite(_ context.Context, id string) (*model.Website, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.sites[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (s *memStore) TouchScanned(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.sites[id]
	if !ok {
		return errors.New("website not found")
	}
	w.LastScannedAt = &at
	return nil
}

func (s *memStore) GetScanResult(_ context.Context, id string) (*model.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.scans[id]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *memStore) UpsertScanResult(_ context.Context, id string, r model.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans[id] = r
	return nil
}

func (s *memStore) GetBusinessProfile(_ context.Context, id string) (*model.BusinessProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.profiles[id]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *memStore) UpsertBusinessProfile(_ context.Context, id string, p model.BusinessProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[id] = p
	return nil
}

func (s *memStore) GetSeoStrategy(_ context.Context, id string) (*model.SeoStrategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.strats[id]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *memStore) UpsertSeoStrategy(_ context.Context, id string, st model.SeoStrategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strats[id] = st
	return nil
}

func (s *memStore) CreateArticleDraft(_ context.Context, d *model.ArticleDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = "draft-" + d.WebsiteID
	s.drafts = append(s.drafts, *d)
	return nil
}

func (s *memStore) draftCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}

// memSink collects call log entries.
type memSink struct {
	mu      sync.Mutex
	entries []model.AiCallLog
}

func (m *memSink) AppendCallLog(_ context.Context, e *model.AiCallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memSink) all() []model.AiCallLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.AiCallLog(nil), m.entries...)
}

// stubProvider overrides selected calls of an embedded provider.
type stubProvider struct {
	provider.Provider
	scanErr  error
	articles []provider.ArticleInput
}

func (s *stubProvider) ScanWebsite(ctx context.Context, in provider.ScanInput, o *provider.Override) (*provider.Result[model.ScanResult], error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	return s.Provider.ScanWebsite(ctx, in, o)
}

func (s *stubProvider) GenerateArticle(ctx context.Context, in provider.ArticleInput, o *provider.Override) (*provider.Result[model.ArticleDraft], error) {
	s.articles = append(s.articles, in)
	return s.Provider.GenerateArticle(ctx, in, o)
}

type staticPages struct{ snap *scrape.Snapshot }

func (s staticPages) Snapshot(context.Context, string) (*scrape.Snapshot, error) {
	return s.snap, nil
}

var acme = model.Website{ID: "w1", URL: "https://www.acme-tools.com", Name: "Acme"}

type fixture struct {
	store  *memStore
	broker *queue.MemoryBroker
	sink   *memSink
	p      *Pipeline
}

func newFixture(t *testing.T, kind provider.Kind, wrap func(provider.Provider) provider.Provider) *fixture {
	t.Helper()
	cfg := provider.Config{Kind: kind}
	base, err := provider.New(context.Background(), cfg)
	require.NoError(t, err)
	if wrap != nil {
		base = wrap(base)
	}
	f := &fixture{
		store:  newMemStore(acme),
		broker: queue.NewMemoryBroker(time.Minute),
		sink:   &memSink{},
	}
	t.Cleanup(func() { _ = f.broker.Close() })
	f.p = New(Deps{
		Store:    f.store,
		Resolver: resolver.New(base, cfg, nil),
		Queue:    f.broker,
		Calls:    calllog.NewRecorder(f.sink, true),
		Now:      func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	return f
}

func job(t *testing.T, q queue.Name, payload any) queue.Job {
	t.Helper()
	j, err := queue.NewJob(q, "w1", payload)
	require.NoError(t, err)
	return j
}

func (f *fixture) next(t *testing.T, q queue.Name) (queue.Job, bool) {
	t.Helper()
	d, err := f.broker.Fetch(context.Background(), q, 10*time.Millisecond)
	if errors.Is(err, queue.ErrNoJob) {
		return queue.Job{}, false
	}
	require.NoError(t, err)
	require.NoError(t, d.Ack(context.Background()))
	return d.Job(), true
}

func TestScan_StoresResultAndChainsAnalyze(t *testing.T) {
	f := newFixture(t, provider.KindMock, nil)

	err := f.p.Scan(context.Background(), job(t, queue.Scan, queue.ScanPayload{WebsiteID: "w1"}))
	require.NoError(t, err)

	scan := f.store.scans["w1"]
	assert.Equal(t, acme.URL, scan.URL)
	require.NotNil(t, f.store.sites["w1"].LastScannedAt)
	assert.Equal(t, 2026, f.store.sites["w1"].LastScannedAt.Year())

	assert.Equal(t, 1, f.broker.Len(queue.Analyze))
	next, ok := f.next(t, queue.Analyze)
	require.True(t, ok)
	var pl queue.AnalyzePayload
	require.NoError(t, next.Decode(&pl))
	assert.Equal(t, "w1", pl.WebsiteID)
	assert.False(t, pl.Debug)

	var raw model.ScanResult
	require.NoError(t, json.Unmarshal([]byte(pl.RawScanOutput), &raw))
	assert.Equal(t, scan, raw)
}

func TestScan_DebugDoesNotChain(t *testing.T) {
	f := newFixture(t, provider.KindMock, nil)

	err := f.p.Scan(context.Background(), job(t, queue.Scan, queue.ScanPayload{WebsiteID: "w1", Debug: true}))
	require.NoError(t, err)

	assert.Contains(t, f.store.scans, "w1")
	assert.Zero(t, f.broker.Len(queue.Analyze))
}

func TestScan_MissingWebsiteIsSkipped(t *testing.T) {
	f := newFixture(t, provider.KindMock, nil)

	err := f.p.Scan(context.Background(), job(t, queue.Scan, queue.ScanPayload{WebsiteID: "nope"}))
	require.NoError(t, err)

	assert.Empty(t, f.store.scans)
	assert.Zero(t, f.broker.Len(queue.Analyze))
	assert.Empty(t, f.sink.all())
}

func TestScan_BadPayloadIsPermanent(t *testing.T) {
	f := newFixture(t, provider.KindMock, nil)

	err := f.p.Scan(context.Background(), queue.Job{Queue: queue.Scan, Payload: json.RawMessage(`[`)})
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
}

func TestScan_RecordsRenderedPrompts(t *testing.T) {
	f := newFixture(t, provider.KindMock, nil)
	f.p.deps.Pages = staticPages{snap: &scrape.Snapshot{URL: acme.URL, Title: "Acme Tools"}}

	require.NoError(t, f.p.Scan(context.Background(), job(t, queue.Scan, queue.ScanPayload{WebsiteID: "w1"})))

	entries := f.sink.all()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, model.CallStatusSuccess, e.Status)
	assert.Equal(t, model.TaskScanWebsite, e.Task)
	assert.Equal(t, "mock", e.Provider)
	assert.Equal(t, "mock", e.Model)
	assert.Equal(t, "w1", e.WebsiteID)
	assert.Contains(t, e.UserPrompt, acme.URL)
	assert.NotContains(t, e.UserPrompt, "{{url}}")
	assert.Contains(t, e.Variables, "page")
	assert.NotEmpty(t, e.ResponseParsed)
}

func TestScan_UpstreamErrorIsLoggedAndReturned(t *testing.T) {
	upstream := resilience.NewTransientError(errors.New("bad gateway"), 502)
	f := newFixture(t, provider.KindMock, func(p provider.Provider) provider.Provider {
		return &stubProvider{Provider: p, scanErr: upstream}
	})

	err := f.p.Scan(context.Background(), job(t, queue.Scan, queue.ScanPayload{WebsiteID: "w1"}))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.False(t, queue.IsPermanent(err))

	assert.Empty(t, f.store.scans)
	assert.Nil(t, f.store.sites["w1"].LastScannedAt)
	assert.Zero(t, f.broker.Len(queue.Analyze))

	entries := f.sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, model.CallStatusError, entries[0].Status)
	assert.Contains(t, entries[0].ErrorMessage, "bad gateway")
}

func TestScan_DegradedProviderContinues(t *testing.T) {
	f := newFixture(t, provider.KindOpenRouter, nil)

	require.NoError(t, f.p.Scan(context.Background(), job(t, queue.Scan, queue.ScanPayload{WebsiteID: "w1"})))

	assert.Equal(t, "Acme Tools", f.store.scans["w1"].Title)
	assert.Equal(t, 1, f.broker.Len(queue.Analyze))

	entries := f.sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, model.CallStatusError, entries[0].Status)
	assert.Equal(t, "openrouter", entries[0].Provider)
}

func TestAnalyze_NoScanResultIsSkipped(t *testing.T) {
	f := newFixture(t, provider.KindMock, nil)

	err := f.p.Analyze(context.Background(), job(t, queue.Analyze, queue.AnalyzePayload{WebsiteID: "w1"}))
	require.NoError(t, err)

	assert.Empty(t, f.store.profiles)
	assert.Zero(t, f.broker.Len(queue.Strategy))
	assert.Empty(t, f.sink.all())
}

func TestAnalyze_StoresProfileAndChainsStrategy(t *testing.T) {
	f := newFixture(t, provider.KindMock, nil)
	f.store.scans["w1"] = model.ScanResult{URL: acme.URL, Title: "Acme Tools", Keywords: []string{"hammers"}}

	err := f.p.Analyze(context.Background(), job(t, queue.Analyze, queue.AnalyzePayload{
		WebsiteID:     "w1",
		RawScanOutput: `{"title":"Acme Tools"}`,
	}))
	require.NoError(t, err)

	profile := f.store.profiles["w1"]
	assert.Equal(t, "Acme Tools", profile.Name)
	assert.Equal(t, []string{"hammers"}, profile.MainProductsOrServices)
	assert.Equal(t, 1, f.broker.Len(queue.Strategy))

	entries := f.sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, `{"title":"Acme Tools"}`, entries[0].Variables["rawScanOutput"])
}

func TestStrategy_UnknownAudience(t *testing.T) {
	f := newFixture(t, provider.KindMock, nil)
	f.store.profiles["w1"] = model.BusinessProfile{Name: "Acme Tools"}

	err := f.p.Strategy(context.Background(), job(t, queue.Strategy, queue.StrategyPayload{WebsiteID: "w1"}))
	require.NoError(t, err)

	st := f.store.strats["w1"]
	assert.Equal(t, provider.UnknownAudience, st.Business.TargetAudience)
	assert.Equal(t, len(st.TopicClusters), st.TotalClusters)
	assert.Equal(t, 1, f.broker.Len(queue.Article))
}

func TestStrategy_NoProfileIsSkipped(t *testing.T) {
	f := newFixture(t, provider.KindMock, nil)

	require.NoError(t, f.p.Strategy(context.Background(), job(t, queue.Strategy, queue.StrategyPayload{WebsiteID: "w1"})))
	assert.Empty(t, f.store.strats)
	assert.Zero(t, f.broker.Len(queue.Article))
}

func TestArticle_UsesFirstCluster(t *testing.T) {
	stub := &stubProvider{}
	f := newFixture(t, provider.KindMock, func(p provider.Provider) provider.Provider {
		stub.Provider = p
		return stub
	})
	f.store.profiles["w1"] = model.BusinessProfile{Name: "Acme Tools"}
	f.store.strats["w1"] = model.SeoStrategy{
		TopicClusters: []model.TopicCluster{
			{PillarPage: "Empty pillar"},
			{
				PillarPage: "Hand tools guide",
				SupportingArticles: []model.SupportingArticle{
					{Title: "Choosing a hammer", Keywords: []string{"hammer"}},
					{Title: "Caring for chisels"},
				},
			},
		},
	}

	err := f.p.Article(context.Background(), job(t, queue.Article, queue.ArticlePayload{
		WebsiteID:        "w1",
		ArticleID:        "a-1",
		PlannedArticleID: "pa-1",
	}))
	require.NoError(t, err)

	require.Len(t, stub.articles, 1)
	assert.Equal(t, "Hand tools guide", stub.articles[0].Pillar.PillarPage)
	assert.Equal(t, "Choosing a hammer", stub.articles[0].Cluster.Title)

	require.Len(t, f.store.drafts, 1)
	d := f.store.drafts[0]
	assert.Equal(t, "w1", d.WebsiteID)
	assert.Equal(t, "a-1", d.ArticleID)
	assert.Equal(t, "pa-1", d.PlannedArticleID)
	assert.Equal(t, "Choosing a hammer", d.Title)
	assert.NotEmpty(t, d.BodyMarkdown)

	for _, q := range queue.Names() {
		assert.Zero(t, f.broker.Len(q), "article enqueues nothing")
	}
}

func TestArticle_NoClustersIsSkipped(t *testing.T) {
	f := newFixture(t, provider.KindMock, nil)
	f.store.strats["w1"] = model.SeoStrategy{TopicClusters: []model.TopicCluster{{PillarPage: "Empty"}}}

	require.NoError(t, f.p.Article(context.Background(), job(t, queue.Article, queue.ArticlePayload{WebsiteID: "w1"})))
	assert.Empty(t, f.store.drafts)
	assert.Empty(t, f.sink.all())
}

func TestTrigger(t *testing.T) {
	b := queue.NewMemoryBroker(time.Minute)
	defer b.Close() //nolint:errcheck

	_, err := Trigger(context.Background(), b, "", false)
	require.Error(t, err)

	j, err := Trigger(context.Background(), b, "w1", true)
	require.NoError(t, err)
	assert.Equal(t, queue.Scan, j.Queue)
	assert.Equal(t, "w1", j.Key)
	assert.Equal(t, 1, b.Len(queue.Scan))

	var pl queue.ScanPayload
	require.NoError(t, j.Decode(&pl))
	assert.True(t, pl.Debug)
}

func TestHandler_UnknownQueue(t *testing.T) {
	f := newFixture(t, provider.KindMock, nil)
	err := f.p.Handler("bogus")(context.Background(), queue.Job{})
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
}

func TestPipeline_EndToEnd(t *testing.T) {
	f := newFixture(t, provider.KindMock, nil)

	w := queue.NewWorker(f.broker, nil, queue.WorkerConfig{Concurrency: 1, Poll: 20 * time.Millisecond})
	f.p.Register(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	_, err := Trigger(ctx, f.broker, "w1", false)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.store.draftCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	tasks := make([]model.Task, 0, 4)
	for _, e := range f.sink.all() {
		tasks = append(tasks, e.Task)
	}
	assert.Equal(t, []model.Task{
		model.TaskScanWebsite,
		model.TaskAnalyzeBusiness,
		model.TaskBuildSeoStrategy,
		model.TaskGenerateArticle,
	}, tasks)
}
