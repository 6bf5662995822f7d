package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactscan/impactscan/pkg/archive"
	"github.com/impactscan/impactscan/pkg/domain"
	"github.com/impactscan/impactscan/pkg/feed"
	"github.com/impactscan/impactscan/pkg/llm"
	"github.com/impactscan/impactscan/pkg/notify"
	"github.com/impactscan/impactscan/pkg/repository"
)

type fakeConfig struct{ feeds map[string]string }

func (c *fakeConfig) GetServerConfig() (string, time.Duration) { return ":0", 30 * time.Second }
func (c *fakeConfig) GetFeeds() map[string]string              { return c.feeds }

type fakeStore struct {
	articles  []*domain.Item
	counts    repository.Counts
	sources   []string
	lastQuery repository.ArticlesQuery
	err       error
}

func (s *fakeStore) GetArticles(_ context.Context, q repository.ArticlesQuery) ([]*domain.Item, error) {
	s.lastQuery = q
	return s.articles, s.err
}

func (s *fakeStore) Counts(context.Context) (*repository.Counts, error) {
	if s.err != nil {
		return nil, s.err
	}
	c := s.counts
	return &c, nil
}

func (s *fakeStore) Sources(context.Context) ([]string, error) { return s.sources, s.err }

type fakeFetcher struct {
	stats   *feed.FetchStats
	gotName string
}

func (f *fakeFetcher) FetchAll(context.Context) (*feed.FetchStats, error) { return f.stats, nil }

func (f *fakeFetcher) FetchOne(_ context.Context, name string) (*feed.FetchStats, error) {
	f.gotName = name
	if name == "missing" {
		return nil, fmt.Errorf("unknown feed: %s", name)
	}
	return f.stats, nil
}

func (f *fakeFetcher) Sources() []string { return []string{"Feed A"} }

type fakeAnalyzer struct {
	stats    *llm.Stats
	err      error
	gotBatch int
}

func (a *fakeAnalyzer) AnalyzePending(_ context.Context, batchSize int) (*llm.Stats, error) {
	a.gotBatch = batchSize
	return a.stats, a.err
}

type fakeArchiver struct{ stats *archive.Stats }

func (a *fakeArchiver) ArchivePending(context.Context, int) (*archive.Stats, error) {
	return a.stats, nil
}

type fakeAggregator struct {
	summary  *domain.MarketSummary
	gotHours int
}

func (a *fakeAggregator) MarketSummary(_ context.Context, sinceHours int) (*domain.MarketSummary, error) {
	a.gotHours = sinceHours
	return a.summary, nil
}

type fakeDispatcher struct {
	gotForce  bool
	summaries int
}

func (d *fakeDispatcher) DispatchSummary(_ context.Context, force bool) error {
	d.gotForce = force
	d.summaries++
	return nil
}

func (d *fakeDispatcher) DispatchExternal(context.Context) error { return nil }

type fakeMailer struct{ result *notify.EmailResult }

func (m *fakeMailer) SendSummary(context.Context) (*notify.EmailResult, error) {
	return m.result, nil
}

type fakeBackends struct{ available bool }

func (b *fakeBackends) Available(context.Context) bool { return b.available }

func testDeps() Deps {
	return Deps{
		Config:     &fakeConfig{feeds: map[string]string{"Feed A": "https://example.com/rss"}},
		Store:      &fakeStore{},
		Fetcher:    &fakeFetcher{stats: &feed.FetchStats{New: 2}},
		Analyzer:   &fakeAnalyzer{stats: &llm.Stats{Analyzed: 1, Total: 1}},
		Archiver:   &fakeArchiver{stats: &archive.Stats{Archived: 1, Total: 1}},
		Aggregator: &fakeAggregator{summary: &domain.MarketSummary{TotalAnalyzed: 3, OverallDirection: domain.DirectionBullish}},
		Dispatcher: &fakeDispatcher{},
		Mailer:     &fakeMailer{result: &notify.EmailResult{Status: "sent"}},
		Backends:   &fakeBackends{available: true},
	}
}

func testServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	srv := New(deps, "test", false)
	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test URL
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func postJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader("")) //nolint:gosec // test URL
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestServer_HealthHandler(t *testing.T) {
	ts := testServer(t, testDeps())

	var got map[string]interface{}
	resp := getJSON(t, ts.URL+"/api/health", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, true, got["llm_available"])
	assert.Equal(t, "test", got["version"])
}

func TestServer_ArticlesHandler(t *testing.T) {
	deps := testDeps()
	store := &fakeStore{articles: []*domain.Item{
		{ID: 1, Title: "News", URL: "https://example.com/1", ImpactLevel: domain.ImpactHigh},
	}}
	deps.Store = store
	ts := testServer(t, deps)

	var got struct {
		Articles []domain.Item `json:"articles"`
		Count    int           `json:"count"`
	}
	resp := getJSON(t, ts.URL+"/api/articles?impact_level=high&sort_by=impact_score&limit=10", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, "News", got.Articles[0].Title)

	assert.Equal(t, "high", store.lastQuery.ImpactLevel)
	assert.Equal(t, "impact_score", store.lastQuery.SortBy)
	assert.Equal(t, 10, store.lastQuery.Limit)
}

func TestServer_ArticlesHandler_LimitCapped(t *testing.T) {
	deps := testDeps()
	store := &fakeStore{}
	deps.Store = store
	ts := testServer(t, deps)

	getJSON(t, ts.URL+"/api/articles?limit=5000", nil)
	assert.Equal(t, maxArticlesLimit, store.lastQuery.Limit)
}

func TestServer_StatsHandler(t *testing.T) {
	deps := testDeps()
	deps.Store = &fakeStore{counts: repository.Counts{Total: 10, Analyzed: 7, High: 2}}
	ts := testServer(t, deps)

	var got repository.Counts
	resp := getJSON(t, ts.URL+"/api/stats", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 10, got.Total)
	assert.Equal(t, 7, got.Analyzed)
}

func TestServer_SourcesAndFeeds(t *testing.T) {
	deps := testDeps()
	deps.Store = &fakeStore{sources: []string{"CNBC", "Reuters"}}
	ts := testServer(t, deps)

	var sources struct {
		Sources []string `json:"sources"`
	}
	getJSON(t, ts.URL+"/api/sources", &sources)
	assert.Equal(t, []string{"CNBC", "Reuters"}, sources.Sources)

	var feeds struct {
		Feeds map[string]string `json:"feeds"`
	}
	getJSON(t, ts.URL+"/api/feeds", &feeds)
	assert.Equal(t, "https://example.com/rss", feeds.Feeds["Feed A"])
}

func TestServer_MarketSummaryHandler(t *testing.T) {
	deps := testDeps()
	agg := deps.Aggregator.(*fakeAggregator)
	ts := testServer(t, deps)

	var got domain.MarketSummary
	resp := getJSON(t, ts.URL+"/api/market-summary?hours=24", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, got.TotalAnalyzed)
	assert.Equal(t, domain.DirectionBullish, got.OverallDirection)
	assert.Equal(t, 24, agg.gotHours)

	resp = getJSON(t, ts.URL+"/api/market-summary?hours=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_FetchHandler(t *testing.T) {
	deps := testDeps()
	fetcher := deps.Fetcher.(*fakeFetcher)
	ts := testServer(t, deps)

	var got feed.FetchStats
	resp := postJSON(t, ts.URL+"/api/fetch", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, got.New)

	postJSON(t, ts.URL+"/api/fetch?source=Feed+A", nil)
	assert.Equal(t, "Feed A", fetcher.gotName)

	resp = postJSON(t, ts.URL+"/api/fetch?source=missing", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServer_AnalyzeHandler(t *testing.T) {
	deps := testDeps()
	analyzer := deps.Analyzer.(*fakeAnalyzer)
	ts := testServer(t, deps)

	var got llm.Stats
	resp := postJSON(t, ts.URL+"/api/analyze?batch_size=5", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, got.Analyzed)
	assert.Equal(t, 5, analyzer.gotBatch)

	t.Run("default batch size", func(t *testing.T) {
		postJSON(t, ts.URL+"/api/analyze", nil)
		assert.Equal(t, defaultAnalyzeBatch, analyzer.gotBatch)
	})

	t.Run("invalid batch size", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/analyze?batch_size=-2", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("no backend maps to service unavailable", func(t *testing.T) {
		deps := testDeps()
		deps.Analyzer = &fakeAnalyzer{err: llm.ErrNoBackend}
		ts := testServer(t, deps)

		resp := postJSON(t, ts.URL+"/api/analyze", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestServer_ArchiveHandler(t *testing.T) {
	ts := testServer(t, testDeps())

	var got archive.Stats
	resp := postJSON(t, ts.URL+"/api/archive", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, got.Archived)
}

func TestServer_SummaryHandler_Forces(t *testing.T) {
	deps := testDeps()
	dispatcher := deps.Dispatcher.(*fakeDispatcher)
	ts := testServer(t, deps)

	resp := postJSON(t, ts.URL+"/api/summary", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, dispatcher.summaries)
	assert.True(t, dispatcher.gotForce, "manual trigger always bypasses the debounce")
}

func TestServer_SummaryHandler_NotConfigured(t *testing.T) {
	deps := testDeps()
	deps.Dispatcher = nil
	ts := testServer(t, deps)

	resp := postJSON(t, ts.URL+"/api/summary", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_EmailSummaryHandler(t *testing.T) {
	ts := testServer(t, testDeps())

	var got notify.EmailResult
	resp := postJSON(t, ts.URL+"/api/email-summary", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sent", got.Status)

	t.Run("not configured", func(t *testing.T) {
		deps := testDeps()
		deps.Mailer = nil
		ts := testServer(t, deps)
		resp := postJSON(t, ts.URL+"/api/email-summary", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestServer_Ping(t *testing.T) {
	ts := testServer(t, testDeps())

	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
