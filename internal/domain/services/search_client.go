package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/internal/metrics"
	"tracelink-lab/pkg/logger"
)

// RecordSearcher fetches one page from the external index
type RecordSearcher interface {
	Search(ctx context.Context, query string, limit int, cursor string) (*models.SearchPage, error)
}

// ResultBudget is the session-wide cap on fetched records, shared by all criteria
type ResultBudget struct {
	remaining atomic.Int64
}

// NewResultBudget creates a budget of max records; max <= 0 means unlimited
func NewResultBudget(max int) *ResultBudget {
	b := &ResultBudget{}
	if max <= 0 {
		b.remaining.Store(-1)
	} else {
		b.remaining.Store(int64(max))
	}
	return b
}

// Take reserves up to n records and returns how many were granted
func (b *ResultBudget) Take(n int) int {
	for {
		cur := b.remaining.Load()
		if cur < 0 {
			return n
		}
		grant := min(int64(n), cur)
		if b.remaining.CompareAndSwap(cur, cur-grant) {
			return int(grant)
		}
	}
}

// PaginatedSearchClient walks the cursor chain of one criterion into a store
type PaginatedSearchClient struct {
	api     RecordSearcher
	cfg     config.SearchConfig
	metrics *metrics.Registry
	logger  *logger.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPaginatedSearchClient creates a new PaginatedSearchClient
func NewPaginatedSearchClient(api RecordSearcher, cfg config.SearchConfig, m *metrics.Registry, log *logger.Logger) *PaginatedSearchClient {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1000
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &PaginatedSearchClient{
		api:     api,
		cfg:     cfg,
		metrics: m,
		logger:  log.WithComponent("paginated-search"),
		sleep:   sleepContext,
	}
}

// FetchAll fetches every page for the criterion, sequentially, upserting each
// record into store. Failures end only this criterion's chain and are reported
// in the summary; records already stored are kept.
func (c *PaginatedSearchClient) FetchAll(ctx context.Context, criterion models.Criterion, store *CrossReferenceStore, budget *ResultBudget) models.CriterionSummary {
	log := c.logger.WithCriterion(criterion.ID, string(criterion.Category))
	summary := models.CriterionSummary{
		CriterionID: criterion.ID,
		Value:       criterion.NormalizedValue,
	}
	if budget == nil {
		budget = NewResultBudget(c.cfg.MaxResults)
	}

	cursor := ""
	for {
		if summary.Pages >= c.cfg.MaxPages {
			summary.StopReason = models.StopMaxPages
			log.Warn().Int("pages", summary.Pages).Msg("page cap reached")
			break
		}
		if ctx.Err() != nil {
			summary.StopReason = models.StopCancelled
			break
		}

		page, retries, err := c.fetchPage(ctx, criterion.NormalizedValue, cursor)
		summary.Retries += retries
		if err != nil {
			if ctx.Err() != nil {
				summary.StopReason = models.StopCancelled
				break
			}
			c.metrics.RecordPageFailure()
			summary.StopReason = models.StopRetriesExceeded
			summary.Error = fmt.Sprintf("criterion %s (%s) page %d: %v", criterion.ID, criterion.NormalizedValue, summary.Pages+1, err)
			log.Warn().Err(err).Int("page", summary.Pages+1).Msg("page failed after retries, keeping partial results")
			break
		}
		summary.Pages++
		c.metrics.RecordPage()

		stored, capped := c.storePage(page, criterion.ID, store, budget, log)
		summary.Records += stored
		if capped {
			summary.StopReason = models.StopMaxResults
			log.Warn().Int("records", summary.Records).Msg("result cap reached")
			break
		}

		if !page.HasMore {
			summary.StopReason = models.StopExhausted
			break
		}
		next := page.Cursor()
		if next == "" {
			summary.StopReason = models.StopMissingCursor
			log.Warn().Int("page", summary.Pages).Msg("server reported has_more without a cursor, treating as end of results")
			break
		}
		cursor = next
	}

	if summary.StopReason.EarlyStop() {
		c.metrics.RecordEarlyStop(string(summary.StopReason))
	}
	log.Debug().
		Int("pages", summary.Pages).
		Int("records", summary.Records).
		Str("stop", string(summary.StopReason)).
		Msg("criterion pagination finished")

	return summary
}

// storePage upserts rows in table order; capped is true when the budget ran out
func (c *PaginatedSearchClient) storePage(page *models.SearchPage, criterionID string, store *CrossReferenceStore, budget *ResultBudget, log *logger.Logger) (stored int, capped bool) {
	tables := make([]string, 0, len(page.Results))
	for t := range page.Results {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	created := 0
	for _, table := range tables {
		rows := nonEmptyRows(page.Results[table])
		granted := budget.Take(len(rows))
		for _, row := range rows[:granted] {
			_, isNew, err := store.Upsert(table, row, criterionID)
			if err != nil {
				log.Warn().Err(err).Msg("store rejected record")
				continue
			}
			if isNew {
				created++
			}
			stored++
		}
		if granted < len(rows) {
			capped = true
			break
		}
	}
	c.metrics.RecordStored(created)
	return stored, capped
}

func nonEmptyRows(rows []map[string]any) []map[string]any {
	out := rows[:0:0]
	for _, row := range rows {
		if len(row) > 0 {
			out = append(out, row)
		}
	}
	return out
}

// fetchPage tries one page up to 1+MaxRetries times with linear backoff.
// Each attempt gets its own timeout.
func (c *PaginatedSearchClient) fetchPage(ctx context.Context, query, cursor string) (*models.SearchPage, int, error) {
	var lastErr error
	retries := 0
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			retries++
			c.metrics.RecordRetry()
			if err := c.sleep(ctx, c.cfg.RetryDelay*time.Duration(attempt)); err != nil {
				return nil, retries, err
			}
		}

		page, err := c.attempt(ctx, query, cursor)
		if err == nil {
			return page, retries, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, retries, ctx.Err()
		}
		c.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("page fetch failed")
	}
	return nil, retries, lastErr
}

func (c *PaginatedSearchClient) attempt(ctx context.Context, query, cursor string) (*models.SearchPage, error) {
	pageCtx := ctx
	if c.cfg.PageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, c.cfg.PageTimeout)
		defer cancel()
	}
	page, err := c.api.Search(pageCtx, query, c.cfg.PageSize, cursor)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, errors.New("empty response")
	}
	return page, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fanout runs FetchAll for every criterion under a bounded-concurrency group
type Fanout struct {
	client      *PaginatedSearchClient
	concurrency int
}

// NewFanout creates a fan-out over client with at most concurrency chains in flight
func NewFanout(client *PaginatedSearchClient, concurrency int) *Fanout {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Fanout{client: client, concurrency: concurrency}
}

// Run fetches all criteria and returns their summaries in criterion order
func (f *Fanout) Run(ctx context.Context, criteria []models.Criterion, store *CrossReferenceStore, onDone func(done, total int)) []models.CriterionSummary {
	budget := NewResultBudget(f.client.cfg.MaxResults)
	summaries := make([]models.CriterionSummary, len(criteria))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	var done atomic.Int32

	for i, crit := range criteria {
		g.Go(func() error {
			if ctx.Err() != nil {
				summaries[i] = models.CriterionSummary{
					CriterionID: crit.ID,
					Value:       crit.NormalizedValue,
					StopReason:  models.StopCancelled,
				}
				return nil
			}
			summaries[i] = f.client.FetchAll(ctx, crit, store, budget)
			if onDone != nil {
				onDone(int(done.Add(1)), len(criteria))
			}
			return nil
		})
	}
	_ = g.Wait()

	return summaries
}
