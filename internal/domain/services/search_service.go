package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/internal/metrics"
	"tracelink-lab/pkg/logger"
)

var (
	ErrEmptyQuery   = errors.New("query is empty")
	ErrInvalidQuery = errors.New("query is not valid UTF-8 text")
)

// sinkTimeout bounds every best-effort write after a search finished
const sinkTimeout = 10 * time.Second

// ResponseCache stores complete responses keyed by normalized query
type ResponseCache interface {
	GetResponse(ctx context.Context, key string) (*models.SearchResponse, bool, error)
	PutResponse(ctx context.Context, key string, resp *models.SearchResponse, ttl time.Duration) error
}

// SessionRecorder persists the audit summary of a session
type SessionRecorder interface {
	RecordSession(ctx context.Context, summary models.SessionSummary) error
}

// ProgressPublisher forwards progress and completion events to other consumers
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, event models.ProgressEvent) error
	PublishCompleted(ctx context.Context, summary models.SessionSummary) error
}

// GraphExporter writes a session's knowledge graph to an external store
type GraphExporter interface {
	ExportGraph(ctx context.Context, sessionID string, kg *models.KnowledgeGraph) error
}

// SearchService runs the full investigation pipeline for one query at a time.
// All mutable search state is created per call.
type SearchService struct {
	cfg         *config.Config
	extractor   Extractor
	planner     *QueryPlanner
	fanout      *Fanout
	scorer      *Scorer
	graphs      *KnowledgeGraphBuilder
	correlation *CorrelationEngine
	metrics     *metrics.Registry
	logger      *logger.Logger
	now         func() time.Time

	mu        sync.RWMutex
	cache     ResponseCache
	recorder  SessionRecorder
	publisher ProgressPublisher
	exporter  GraphExporter
}

// NewSearchService wires the pipeline stages from cfg around the given searcher
func NewSearchService(cfg *config.Config, api RecordSearcher, m *metrics.Registry, log *logger.Logger) *SearchService {
	extractor := NewEntityExtractor(cfg.Extraction, log)
	client := NewPaginatedSearchClient(api, cfg.Search, m, log)
	mapper := NewMentionMapper(extractor, time.Now)
	resolver := NewEntityResolver(cfg.Resolution, log)

	return &SearchService{
		cfg:         cfg,
		extractor:   extractor,
		planner:     NewQueryPlanner(cfg.Scoring, log),
		fanout:      NewFanout(client, cfg.Search.Concurrency),
		scorer:      NewScorer(cfg.Scoring, log),
		graphs:      NewKnowledgeGraphBuilder(cfg.Graph, mapper, resolver, log),
		correlation: NewCorrelationEngine(cfg.Correlation, log),
		metrics:     m,
		logger:      log.WithComponent("search-service"),
		now:         time.Now,
	}
}

// SetCache enables the response cache
func (s *SearchService) SetCache(c ResponseCache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = c
	s.logger.Info().Msg("response cache configured")
}

// SetRecorder enables session auditing
func (s *SearchService) SetRecorder(r SessionRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
	s.logger.Info().Msg("session recorder configured")
}

// SetPublisher enables progress event publishing
func (s *SearchService) SetPublisher(p ProgressPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
	s.logger.Info().Msg("progress publisher configured")
}

// SetExporter enables graph export
func (s *SearchService) SetExporter(e GraphExporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exporter = e
	s.logger.Info().Msg("graph exporter configured")
}

type sinks struct {
	cache     ResponseCache
	recorder  SessionRecorder
	publisher ProgressPublisher
	exporter  GraphExporter
}

func (s *SearchService) sinks() sinks {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sinks{cache: s.cache, recorder: s.recorder, publisher: s.publisher, exporter: s.exporter}
}

// Extract runs extraction and planning without searching
func (s *SearchService) Extract(text string) (*models.ExtractionResult, *models.SearchPlan, error) {
	text, err := ValidateQuery(text)
	if err != nil {
		return nil, nil, err
	}
	extraction := s.extractor.Extract(text)
	return extraction, s.planner.Plan(extraction), nil
}

// Search answers one investigator query. The only error paths are malformed
// input; search failures degrade into metadata on a successful response.
func (s *SearchService) Search(ctx context.Context, query string, progress models.ProgressFunc) (*models.SearchResponse, error) {
	query, err := ValidateQuery(query)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	log := s.logger.WithSessionID(sessionID)
	out := s.sinks()
	started := s.now()
	defer s.metrics.SearchStarted()()

	if s.cfg.Search.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Search.SessionTimeout)
		defer cancel()
	}

	tracker := newProgressTracker(ctx, sessionID, progress, out.publisher, s.now, log)
	tracker.emit(models.StageParsing, 5, "extracting entities")

	cacheKey := CacheKey(query)
	if out.cache != nil {
		if resp, ok := s.fromCache(ctx, out.cache, cacheKey, sessionID, log); ok {
			resp.Metadata.StartedAt = started
			resp.Metadata.CompletedAt = s.now()
			resp.Metadata.DurationMs = resp.Metadata.CompletedAt.Sub(started).Milliseconds()
			s.metrics.RecordSearch("cached", resp.Metadata.CompletedAt.Sub(started))
			s.deliver(ctx, out, cacheKey, resp, log)
			tracker.emit(models.StageComplete, 100, "answered from cache")
			return resp, nil
		}
	}

	// 1. Extraction and planning
	extraction := s.extractor.Extract(query)
	plan := s.planner.Plan(extraction)
	tracker.emit(models.StageParsing, 10, fmt.Sprintf("found %d criteria", len(plan.Criteria)))
	log.Info().
		Int("criteria", len(plan.Criteria)).
		Str("intent", plan.Intent).
		Str("strategy", string(plan.Strategy)).
		Msg("query planned")

	// 2. Paginated search over primary criteria
	store := NewCrossReferenceStore()
	primary := plan.Primary()
	tracker.emit(models.StageSearching, 15, fmt.Sprintf("searching %d primary criteria", len(primary)))
	summaries := s.fanout.Run(ctx, primary, store, func(done, total int) {
		tracker.emit(models.StagePaginating, 20+50*done/total, fmt.Sprintf("%d of %d criteria fetched", done, total))
	})

	// 3. Cross-reference and score
	tracker.emit(models.StageFiltering, 75, fmt.Sprintf("scoring %d records", store.Len()))
	ranked := s.scorer.Rank(plan, store)

	// 4. Graph and correlation
	tracker.emit(models.StageAnalyzing, 85, "building knowledge graph")
	records := store.Records()
	graph := s.graphs.Build(records).Snapshot()
	analysis := s.correlation.Analyze(graph)
	ApplyRiskScores(graph, analysis)

	resp := &models.SearchResponse{
		SessionID:     sessionID,
		Query:         query,
		Criteria:      plan.Criteria,
		Extraction:    extraction,
		RawRecords:    records,
		RankedResults: ranked,
		Graph:         graph,
		Analysis:      analysis,
		Insights:      analysis.Insights,
	}
	resp.Metadata = buildMetadata(plan, summaries, store.Len(), ranked, ctx.Err())
	resp.Metadata.StartedAt = started
	resp.Metadata.CompletedAt = s.now()
	resp.Metadata.DurationMs = resp.Metadata.CompletedAt.Sub(started).Milliseconds()

	s.recordMetrics(resp, analysis)
	s.deliver(ctx, out, cacheKey, resp, log)

	tracker.emit(models.StageComplete, 100, fmt.Sprintf("%d results, %d insights", len(ranked), len(resp.Insights)))
	log.Info().
		Int("records", resp.Metadata.UniqueRecords).
		Int("exact", resp.Metadata.ExactMatches).
		Int("nodes", len(graph.Nodes)).
		Int("edges", len(graph.Edges)).
		Bool("early_stopped", resp.Metadata.EarlyStopped).
		Int("api_errors", len(resp.Metadata.APIErrors)).
		Int64("duration_ms", resp.Metadata.DurationMs).
		Msg("search complete")

	return resp, nil
}

// ValidateQuery trims q and rejects empty or non-UTF-8 input
func ValidateQuery(q string) (string, error) {
	if !utf8.ValidString(q) {
		return "", ErrInvalidQuery
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return "", ErrEmptyQuery
	}
	return q, nil
}

// CacheKey derives the response cache key from a query. Case and spacing
// differences map to the same key.
func CacheKey(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	return "search:" + strconv.FormatUint(xxhash.Sum64String(normalized), 16)
}

func (s *SearchService) fromCache(ctx context.Context, c ResponseCache, key, sessionID string, log *logger.Logger) (*models.SearchResponse, bool) {
	resp, ok, err := c.GetResponse(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("response cache read failed")
		return nil, false
	}
	if !ok || resp == nil {
		return nil, false
	}
	resp.SessionID = sessionID
	resp.Metadata.Cached = true
	s.metrics.RecordCacheHit()
	log.Debug().Str("key", key).Msg("response cache hit")
	return resp, true
}

func buildMetadata(plan *models.SearchPlan, summaries []models.CriterionSummary, unique int, ranked []models.RankedResult, ctxErr error) models.SearchMetadata {
	meta := models.SearchMetadata{
		Success:       true,
		Intent:        plan.Intent,
		Strategy:      plan.Strategy,
		APIErrors:     []string{},
		UniqueRecords: unique,
		Criteria:      summaries,
	}
	for _, sm := range summaries {
		meta.PagesFetched += sm.Pages
		meta.RecordsFetched += sm.Records
		if sm.Error != "" {
			meta.APIErrors = append(meta.APIErrors, fmt.Sprintf("%s %q: %s", sm.CriterionID, sm.Value, sm.Error))
		}
		if sm.StopReason.EarlyStop() {
			meta.EarlyStopped = true
			meta.StopReasons = append(meta.StopReasons, sm.CriterionID+": "+string(sm.StopReason))
		}
	}
	if ctxErr != nil && !meta.EarlyStopped {
		meta.EarlyStopped = true
		meta.StopReasons = append(meta.StopReasons, "session: "+ctxErr.Error())
	}
	for _, r := range ranked {
		if r.MatchType == models.MatchExact {
			meta.ExactMatches++
		} else {
			meta.PartialMatches++
		}
	}
	return meta
}

func (s *SearchService) recordMetrics(resp *models.SearchResponse, analysis *models.CorrelationResult) {
	status := "ok"
	if resp.Metadata.EarlyStopped || len(resp.Metadata.APIErrors) > 0 {
		status = "partial"
	}
	s.metrics.RecordSearch(status, time.Duration(resp.Metadata.DurationMs)*time.Millisecond)
	byType := make(map[string]int)
	for _, p := range analysis.Patterns {
		byType[string(p.Type)]++
	}
	s.metrics.RecordAnalysis(len(resp.Graph.Nodes), byType)
}

// deliver hands the finished response to the optional sinks. Their failures
// are logged and never change the response. Cached responses are audited and
// announced but neither re-cached nor re-exported.
func (s *SearchService) deliver(ctx context.Context, out sinks, cacheKey string, resp *models.SearchResponse, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	summary := resp.Summary(cacheKey)

	cached := resp.Metadata.Cached
	if out.cache != nil && !cached && !resp.Metadata.EarlyStopped && len(resp.Metadata.APIErrors) == 0 {
		if err := out.cache.PutResponse(ctx, cacheKey, resp, s.cfg.Search.CacheTTL); err != nil {
			log.Warn().Err(err).Msg("response cache write failed")
		}
	}
	if out.recorder != nil {
		if err := out.recorder.RecordSession(ctx, summary); err != nil {
			log.Warn().Err(err).Msg("session audit failed")
		}
	}
	if out.exporter != nil && !cached && resp.Graph != nil && len(resp.Graph.Nodes) > 0 {
		if err := out.exporter.ExportGraph(ctx, resp.SessionID, resp.Graph); err != nil {
			log.Warn().Err(err).Msg("graph export failed")
		}
	}
	if out.publisher != nil {
		if err := out.publisher.PublishCompleted(ctx, summary); err != nil {
			log.Warn().Err(err).Msg("completion event publish failed")
		}
	}
}

// progressTracker emits progress events that never go backwards, even when
// criteria finish concurrently
type progressTracker struct {
	ctx       context.Context
	sessionID string
	fn        models.ProgressFunc
	publisher ProgressPublisher
	now       func() time.Time
	logger    *logger.Logger

	mu   sync.Mutex
	last int
}

func newProgressTracker(ctx context.Context, sessionID string, fn models.ProgressFunc, pub ProgressPublisher, now func() time.Time, log *logger.Logger) *progressTracker {
	return &progressTracker{
		ctx:       context.WithoutCancel(ctx),
		sessionID: sessionID,
		fn:        fn,
		publisher: pub,
		now:       now,
		logger:    log,
	}
}

func (t *progressTracker) emit(stage models.ProgressStage, pct int, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pct = max(t.last, min(pct, 100))
	t.last = pct
	event := models.ProgressEvent{
		SessionID: t.sessionID,
		Stage:     stage,
		Progress:  pct,
		Message:   msg,
		Timestamp: t.now(),
	}
	if t.fn != nil {
		t.fn(event)
	}
	if t.publisher != nil {
		if err := t.publisher.PublishProgress(t.ctx, event); err != nil {
			t.logger.Debug().Err(err).Str("stage", string(stage)).Msg("progress publish failed")
		}
	}
}
