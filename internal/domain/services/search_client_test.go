package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/internal/sources/searchapi"
	"tracelink-lab/pkg/logger"
)

func testSearchConfig() config.SearchConfig {
	cfg := config.Default().Search
	cfg.RetryDelay = time.Millisecond
	cfg.PageTimeout = time.Second
	return cfg
}

func phoneCriterion() models.Criterion {
	return models.Criterion{
		ID: "c1", Role: models.RolePrimary, Category: models.CategoryPhone,
		EntityType: models.EntityPhone, Value: "9876543210", NormalizedValue: "9876543210", Weight: 10,
	}
}

func strPtr(s string) *string { return &s }

// scriptedSearcher answers pages from a function and records calls
type scriptedSearcher struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, query, cursor string) (*models.SearchPage, error)
}

func (s *scriptedSearcher) Search(ctx context.Context, query string, limit int, cursor string) (*models.SearchPage, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fn(call, query, cursor)
}

func TestFetchAll_InfiniteServerStopsAtMaxPages(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		fmt.Fprintf(w, `{"results":{"customers":[{"id":%d}]},"has_more":true,"next_cursor":"p%d"}`, n, n)
	}))
	defer srv.Close()

	api := searchapi.NewClient(config.SearchAPIConfig{BaseURL: srv.URL}, logger.NewNop())
	cfg := testSearchConfig()
	cfg.MaxPages = 7

	client := NewPaginatedSearchClient(api, cfg, nil, logger.NewNop())
	store := NewCrossReferenceStore()
	summary := client.FetchAll(context.Background(), phoneCriterion(), store, nil)

	assert.Equal(t, 7, summary.Pages)
	assert.Equal(t, int32(7), hits.Load(), "must never fetch more than max pages")
	assert.Equal(t, models.StopMaxPages, summary.StopReason)
	assert.True(t, summary.StopReason.EarlyStop())
	assert.Equal(t, 7, store.Len())
}

func TestFetchAll_FollowsCursorUntilExhausted(t *testing.T) {
	var seen []string
	api := &scriptedSearcher{fn: func(call int, _, cursor string) (*models.SearchPage, error) {
		seen = append(seen, cursor)
		page := &models.SearchPage{
			Results: map[string][]map[string]any{"customers": {{"id": call}}},
			HasMore: call < 3,
		}
		if page.HasMore {
			page.NextCursor = strPtr("cur" + strconv.Itoa(call))
		}
		return page, nil
	}}

	client := NewPaginatedSearchClient(api, testSearchConfig(), nil, logger.NewNop())
	store := NewCrossReferenceStore()
	summary := client.FetchAll(context.Background(), phoneCriterion(), store, nil)

	assert.Equal(t, []string{"", "cur1", "cur2"}, seen)
	assert.Equal(t, 3, summary.Pages)
	assert.Equal(t, models.StopExhausted, summary.StopReason)
	assert.Equal(t, 3, store.Len())
}

func TestFetchAll_HasMoreWithoutCursorIsSoftEnd(t *testing.T) {
	api := &scriptedSearcher{fn: func(int, string, string) (*models.SearchPage, error) {
		return &models.SearchPage{
			Results: map[string][]map[string]any{"t": {{"a": 1}}},
			HasMore: true,
		}, nil
	}}

	client := NewPaginatedSearchClient(api, testSearchConfig(), nil, logger.NewNop())
	summary := client.FetchAll(context.Background(), phoneCriterion(), NewCrossReferenceStore(), nil)

	assert.Equal(t, 1, api.calls)
	assert.Equal(t, models.StopMissingCursor, summary.StopReason)
	assert.Empty(t, summary.Error)
	assert.False(t, summary.StopReason.EarlyStop())
}

func TestFetchAll_RetriesThenSucceeds(t *testing.T) {
	api := &scriptedSearcher{fn: func(call int, _, _ string) (*models.SearchPage, error) {
		if call < 3 {
			return nil, errors.New("connection reset")
		}
		return &models.SearchPage{Results: map[string][]map[string]any{"t": {{"a": 1}}}}, nil
	}}

	var delays []time.Duration
	client := NewPaginatedSearchClient(api, testSearchConfig(), nil, logger.NewNop())
	client.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	summary := client.FetchAll(context.Background(), phoneCriterion(), NewCrossReferenceStore(), nil)
	assert.Equal(t, 1, summary.Pages)
	assert.Equal(t, 2, summary.Retries)
	assert.Equal(t, models.StopExhausted, summary.StopReason)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays, "backoff must grow linearly")
}

func TestFetchAll_RetryExhaustionKeepsPartialResults(t *testing.T) {
	api := &scriptedSearcher{fn: func(call int, _, _ string) (*models.SearchPage, error) {
		if call == 1 {
			return &models.SearchPage{
				Results:    map[string][]map[string]any{"t": {{"a": 1}, {"a": 2}}},
				HasMore:    true,
				NextCursor: strPtr("next"),
			}, nil
		}
		return nil, &searchapi.StatusError{StatusCode: 502, Body: "bad gateway"}
	}}

	cfg := testSearchConfig()
	cfg.MaxRetries = 2
	client := NewPaginatedSearchClient(api, cfg, nil, logger.NewNop())
	store := NewCrossReferenceStore()
	summary := client.FetchAll(context.Background(), phoneCriterion(), store, nil)

	assert.Equal(t, 4, api.calls, "one good page plus three attempts at the second")
	assert.Equal(t, models.StopRetriesExceeded, summary.StopReason)
	assert.Contains(t, summary.Error, "502")
	assert.Equal(t, 2, store.Len())
}

func TestFetchAll_ResultCapTruncates(t *testing.T) {
	api := &scriptedSearcher{fn: func(call int, _, _ string) (*models.SearchPage, error) {
		rows := []map[string]any{}
		for i := 0; i < 4; i++ {
			rows = append(rows, map[string]any{"page": call, "row": i})
		}
		return &models.SearchPage{
			Results:    map[string][]map[string]any{"t": rows},
			HasMore:    true,
			NextCursor: strPtr("more"),
		}, nil
	}}

	client := NewPaginatedSearchClient(api, testSearchConfig(), nil, logger.NewNop())
	store := NewCrossReferenceStore()
	summary := client.FetchAll(context.Background(), phoneCriterion(), store, NewResultBudget(10))

	assert.Equal(t, models.StopMaxResults, summary.StopReason)
	assert.Equal(t, 10, store.Len())
	assert.Equal(t, 3, summary.Pages)
}

func TestFetchAll_EmptyRowsDoNotSpendBudget(t *testing.T) {
	api := &scriptedSearcher{fn: func(int, string, string) (*models.SearchPage, error) {
		return &models.SearchPage{
			Results: map[string][]map[string]any{"t": {nil, {}, {"n": 1}, nil, {"n": 2}}},
		}, nil
	}}

	client := NewPaginatedSearchClient(api, testSearchConfig(), nil, logger.NewNop())
	store := NewCrossReferenceStore()
	summary := client.FetchAll(context.Background(), phoneCriterion(), store, NewResultBudget(2))

	assert.Equal(t, models.StopExhausted, summary.StopReason)
	assert.Equal(t, 2, summary.Records)
	assert.Equal(t, 2, store.Len())
}

func TestFetchAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := &scriptedSearcher{fn: func(call int, _, _ string) (*models.SearchPage, error) {
		if call == 2 {
			cancel()
		}
		return &models.SearchPage{
			Results:    map[string][]map[string]any{"t": {{"n": call}}},
			HasMore:    true,
			NextCursor: strPtr("x"),
		}, nil
	}}

	client := NewPaginatedSearchClient(api, testSearchConfig(), nil, logger.NewNop())
	summary := client.FetchAll(ctx, phoneCriterion(), NewCrossReferenceStore(), nil)
	assert.Equal(t, models.StopCancelled, summary.StopReason)
	assert.Empty(t, summary.Error)
}

func TestFanout_BoundedConcurrencyAndOrder(t *testing.T) {
	var inFlight, peak atomic.Int32
	api := &scriptedSearcher{fn: func(_ int, query, _ string) (*models.SearchPage, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return &models.SearchPage{Results: map[string][]map[string]any{"t": {{"q": query}}}}, nil
	}}

	var criteria []models.Criterion
	for i := 1; i <= 8; i++ {
		c := phoneCriterion()
		c.ID = fmt.Sprintf("c%d", i)
		c.NormalizedValue = fmt.Sprintf("98765432%02d", i)
		criteria = append(criteria, c)
	}

	client := NewPaginatedSearchClient(api, testSearchConfig(), nil, logger.NewNop())
	store := NewCrossReferenceStore()
	var callbacks atomic.Int32
	summaries := NewFanout(client, 3).Run(context.Background(), criteria, store, func(done, total int) {
		callbacks.Add(1)
		assert.Equal(t, 8, total)
	})

	require.Len(t, summaries, 8)
	for i, s := range summaries {
		assert.Equal(t, criteria[i].ID, s.CriterionID)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, int32(8), callbacks.Load())
	assert.Equal(t, 8, store.Len())
}
