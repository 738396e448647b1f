package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/internal/metrics"
	"tracelink-lab/internal/sources/searchapi"
	"tracelink-lab/pkg/logger"
)

const rahulQuery = "rahul sharma from delhi with phone 9876543210"

// pagedIndex serves fixed pages per cursor for any query
type pagedIndex struct {
	t       *testing.T
	pages   map[string]models.SearchPage
	status  int
	calls   atomic.Int32
	mu      sync.Mutex
	queries []string
}

func (p *pagedIndex) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.calls.Add(1)
	p.mu.Lock()
	p.queries = append(p.queries, r.URL.Query().Get("q"))
	p.mu.Unlock()

	if p.status != 0 {
		http.Error(w, "unavailable", p.status)
		return
	}
	page, ok := p.pages[r.URL.Query().Get("cursor")]
	if !ok {
		http.Error(w, "bad cursor", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(p.t, json.NewEncoder(w).Encode(page))
}

func rahulIndex(t *testing.T) *pagedIndex {
	return &pagedIndex{
		t: t,
		pages: map[string]models.SearchPage{
			"": {
				Results: map[string][]map[string]any{
					"customers": {
						{"name": "Rahul Sharma", "city": "New Delhi", "mobile": "9876543210"},
						{"name": "Amit Verma", "city": "Mumbai", "mobile": "9876543210"},
					},
				},
				HasMore:    true,
				NextCursor: strPtr("p2"),
			},
			"p2": {
				Results: map[string][]map[string]any{
					"customers": {
						{"name": "RAHUL SHARMAA", "city": "Delhi", "mobile": "9876543210"},
						{"name": "Rahul Sharma", "city": "Pune", "mobile": "9876543210"},
						// duplicate of a first-page row
						{"name": "Amit Verma", "city": "Mumbai", "mobile": "9876543210"},
					},
				},
			},
		},
	}
}

func newTestSearchService(t *testing.T, index http.Handler, tweak func(*config.Config)) *SearchService {
	srv := httptest.NewServer(index)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Extraction.Mode = ModeRegex
	cfg.Search = testSearchConfig()
	cfg.SearchAPI.BaseURL = srv.URL
	if tweak != nil {
		tweak(cfg)
	}
	api := searchapi.NewClient(cfg.SearchAPI, logger.NewNop())
	return NewSearchService(cfg, api, nil, logger.NewNop())
}

func TestSearch_EndToEnd(t *testing.T) {
	index := rahulIndex(t)
	svc := newTestSearchService(t, index, nil)

	resp, err := svc.Search(context.Background(), rahulQuery, nil)
	require.NoError(t, err)

	// criteria
	require.Len(t, resp.Criteria, 3)
	roles := map[models.Category]models.CriterionRole{}
	for _, c := range resp.Criteria {
		roles[c.Category] = c.Role
	}
	assert.Equal(t, models.RolePrimary, roles[models.CategoryPhone])
	assert.Equal(t, models.RoleSecondary, roles[models.CategoryName])
	assert.Equal(t, models.RoleSecondary, roles[models.CategoryLocation])

	// every page fetched for the phone
	assert.Equal(t, int32(2), index.calls.Load())
	assert.Equal(t, []string{"9876543210", "9876543210"}, index.queries)

	// exact matches first
	require.Len(t, resp.RankedResults, 4)
	assert.Equal(t, models.MatchExact, resp.RankedResults[0].MatchType)
	assert.Equal(t, models.MatchExact, resp.RankedResults[1].MatchType)
	assert.Equal(t, models.MatchPartial, resp.RankedResults[2].MatchType)
	assert.Equal(t, models.MatchPartial, resp.RankedResults[3].MatchType)

	meta := resp.Metadata
	assert.True(t, meta.Success)
	assert.False(t, meta.EarlyStopped)
	assert.Empty(t, meta.APIErrors)
	assert.Equal(t, 2, meta.PagesFetched)
	assert.Equal(t, 5, meta.RecordsFetched)
	assert.Equal(t, 4, meta.UniqueRecords)
	assert.Equal(t, 2, meta.ExactMatches)
	assert.Equal(t, 2, meta.PartialMatches)
	assert.Equal(t, "person lookup", meta.Intent)
	assert.Len(t, resp.RawRecords, 4)

	require.NotNil(t, resp.Graph)
	ids := map[string]bool{}
	for _, n := range resp.Graph.Nodes {
		ids[n.ID] = true
	}
	assert.True(t, ids["phone:9876543210"])
	assert.True(t, ids["name:rahul sharma"])
	assert.True(t, ids["name:amit verma"])
	require.NotNil(t, resp.Analysis)
	assert.NotEmpty(t, resp.SessionID)
}

func TestSearch_FreshSessionPerCall(t *testing.T) {
	svc := newTestSearchService(t, rahulIndex(t), nil)

	first, err := svc.Search(context.Background(), rahulQuery, nil)
	require.NoError(t, err)
	second, err := svc.Search(context.Background(), rahulQuery, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.Metadata.UniqueRecords, second.Metadata.UniqueRecords)
	assert.Equal(t, len(first.Graph.Nodes), len(second.Graph.Nodes))
}

func TestSearch_ProgressIsMonotonic(t *testing.T) {
	svc := newTestSearchService(t, rahulIndex(t), nil)

	var events []models.ProgressEvent
	_, err := svc.Search(context.Background(), rahulQuery, func(e models.ProgressEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, models.StageParsing, events[0].Stage)
	last := events[len(events)-1]
	assert.Equal(t, models.StageComplete, last.Stage)
	assert.Equal(t, 100, last.Progress)

	stages := map[models.ProgressStage]bool{}
	for i, e := range events {
		stages[e.Stage] = true
		assert.Equal(t, events[0].SessionID, e.SessionID)
		if i > 0 {
			assert.GreaterOrEqual(t, e.Progress, events[i-1].Progress)
		}
	}
	for _, s := range []models.ProgressStage{models.StageSearching, models.StagePaginating, models.StageFiltering, models.StageAnalyzing} {
		assert.True(t, stages[s], s)
	}
}

func TestSearch_InvalidInput(t *testing.T) {
	svc := newTestSearchService(t, rahulIndex(t), nil)

	_, err := svc.Search(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = svc.Search(context.Background(), "\xff\xfe", nil)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, _, err = svc.Extract("")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearch_APIFailureDegrades(t *testing.T) {
	index := &pagedIndex{t: t, status: http.StatusServiceUnavailable}
	svc := newTestSearchService(t, index, func(c *config.Config) { c.Search.MaxRetries = 1 })

	resp, err := svc.Search(context.Background(), rahulQuery, nil)
	require.NoError(t, err)
	assert.True(t, resp.Metadata.Success)
	require.Len(t, resp.Metadata.APIErrors, 1)
	assert.Contains(t, resp.Metadata.APIErrors[0], "503")
	assert.Empty(t, resp.RankedResults)
	assert.Empty(t, resp.Analysis.Patterns)
	assert.Equal(t, int32(2), index.calls.Load())
}

func TestSearch_PageCapFlagsEarlyStop(t *testing.T) {
	svc := newTestSearchService(t, rahulIndex(t), func(c *config.Config) { c.Search.MaxPages = 1 })

	resp, err := svc.Search(context.Background(), rahulQuery, nil)
	require.NoError(t, err)
	assert.True(t, resp.Metadata.EarlyStopped)
	assert.Contains(t, resp.Metadata.StopReasons[0], string(models.StopMaxPages))
	assert.Equal(t, 2, resp.Metadata.UniqueRecords)
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*models.SearchResponse
	puts    int
}

func (c *memoryCache) GetResponse(_ context.Context, key string) (*models.SearchResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

func (c *memoryCache) PutResponse(_ context.Context, key string, resp *models.SearchResponse, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]*models.SearchResponse{}
	}
	c.entries[key] = resp
	c.puts++
	return nil
}

func TestSearch_CachesCompleteResponses(t *testing.T) {
	index := rahulIndex(t)
	svc := newTestSearchService(t, index, nil)
	cache := &memoryCache{}
	svc.SetCache(cache)

	first, err := svc.Search(context.Background(), rahulQuery, nil)
	require.NoError(t, err)
	assert.False(t, first.Metadata.Cached)
	assert.Equal(t, 1, cache.puts)

	second, err := svc.Search(context.Background(), "  Rahul Sharma from Delhi with phone 9876543210 ", nil)
	require.NoError(t, err)
	assert.True(t, second.Metadata.Cached)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, int32(2), index.calls.Load(), "cached answer must not hit the index")
}

func TestSearch_CacheHitIsAuditedWithFreshTiming(t *testing.T) {
	svc := newTestSearchService(t, rahulIndex(t), nil)
	cache := &memoryCache{}
	sinks := &recordingSinks{}
	svc.SetCache(cache)
	svc.SetRecorder(sinks)
	svc.SetPublisher(sinks)
	svc.SetExporter(sinks)

	var clockMu sync.Mutex
	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	first, err := svc.Search(context.Background(), rahulQuery, nil)
	require.NoError(t, err)
	second, err := svc.Search(context.Background(), rahulQuery, nil)
	require.NoError(t, err)

	require.True(t, second.Metadata.Cached)
	assert.True(t, second.Metadata.StartedAt.After(first.Metadata.CompletedAt))
	assert.Equal(t, second.Metadata.CompletedAt.Sub(second.Metadata.StartedAt).Milliseconds(), second.Metadata.DurationMs)

	require.Len(t, sinks.sessions, 2)
	audit := sinks.sessions[1]
	assert.Equal(t, second.SessionID, audit.SessionID)
	assert.True(t, audit.Cached)
	assert.Equal(t, second.Metadata.StartedAt, audit.StartedAt)

	require.Len(t, sinks.completed, 2)
	assert.True(t, sinks.completed[1].Cached)
	assert.Equal(t, []string{first.SessionID}, sinks.exported, "cached graph is not exported again")
	assert.Equal(t, 1, cache.puts)
}

func TestSearch_EarlyStopCountedOncePerCriterion(t *testing.T) {
	srv := httptest.NewServer(rahulIndex(t))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Extraction.Mode = ModeRegex
	cfg.Search = testSearchConfig()
	cfg.Search.MaxPages = 1
	cfg.SearchAPI.BaseURL = srv.URL
	reg := metrics.NewRegistry()
	svc := NewSearchService(cfg, searchapi.NewClient(cfg.SearchAPI, logger.NewNop()), reg, logger.NewNop())

	resp, err := svc.Search(context.Background(), rahulQuery, nil)
	require.NoError(t, err)
	require.True(t, resp.Metadata.EarlyStopped)

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.EarlyStopsTotal.WithLabelValues(string(models.StopMaxPages))))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.SearchesTotal.WithLabelValues("partial")))
}

func TestSearch_EarlyStoppedResponsesAreNotCached(t *testing.T) {
	svc := newTestSearchService(t, rahulIndex(t), func(c *config.Config) { c.Search.MaxPages = 1 })
	cache := &memoryCache{}
	svc.SetCache(cache)

	_, err := svc.Search(context.Background(), rahulQuery, nil)
	require.NoError(t, err)
	assert.Zero(t, cache.puts)
}

type recordingSinks struct {
	mu        sync.Mutex
	sessions  []models.SessionSummary
	progress  []models.ProgressEvent
	completed []models.SessionSummary
	exported  []string
	fail      bool
}

func (r *recordingSinks) RecordSession(_ context.Context, s models.SessionSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
	if r.fail {
		return errors.New("database down")
	}
	return nil
}

func (r *recordingSinks) PublishProgress(_ context.Context, e models.ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, e)
	return nil
}

func (r *recordingSinks) PublishCompleted(_ context.Context, s models.SessionSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, s)
	return nil
}

func (r *recordingSinks) ExportGraph(_ context.Context, sessionID string, kg *models.KnowledgeGraph) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exported = append(r.exported, sessionID)
	if r.fail {
		return errors.New("neo4j down")
	}
	return nil
}

func TestSearch_SinksReceiveSessionAndNeverFailIt(t *testing.T) {
	svc := newTestSearchService(t, rahulIndex(t), nil)
	sinks := &recordingSinks{fail: true}
	svc.SetRecorder(sinks)
	svc.SetPublisher(sinks)
	svc.SetExporter(sinks)

	resp, err := svc.Search(context.Background(), rahulQuery, nil)
	require.NoError(t, err)
	assert.True(t, resp.Metadata.Success)

	require.Len(t, sinks.sessions, 1)
	s := sinks.sessions[0]
	assert.Equal(t, resp.SessionID, s.SessionID)
	assert.Equal(t, CacheKey(rahulQuery), s.QueryHash)
	assert.Equal(t, 4, s.UniqueRecords)
	assert.Equal(t, len(resp.Graph.Nodes), s.GraphNodes)

	assert.Equal(t, []string{resp.SessionID}, sinks.exported)
	require.Len(t, sinks.completed, 1)
	require.NotEmpty(t, sinks.progress)
	assert.Equal(t, models.StageComplete, sinks.progress[len(sinks.progress)-1].Stage)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, CacheKey("Rahul  Sharma"), CacheKey(" rahul sharma "))
	assert.NotEqual(t, CacheKey("rahul sharma"), CacheKey("amit verma"))
	assert.Regexp(t, `^search:[0-9a-f]+$`, CacheKey("x"))
}
