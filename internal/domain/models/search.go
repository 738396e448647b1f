package models

import "time"

// StopReason explains why a criterion's pagination chain ended
type StopReason string

const (
	StopExhausted       StopReason = "exhausted"
	StopMissingCursor   StopReason = "missing_cursor"
	StopMaxPages        StopReason = "max_pages"
	StopMaxResults      StopReason = "max_results"
	StopRetriesExceeded StopReason = "retries_exceeded"
	StopCancelled       StopReason = "cancelled"
)

// EarlyStop reports whether the reason means results may be incomplete
func (r StopReason) EarlyStop() bool {
	switch r {
	case StopMaxPages, StopMaxResults, StopCancelled:
		return true
	}
	return false
}

// CriterionSummary describes the pagination of one primary criterion
type CriterionSummary struct {
	CriterionID string     `json:"criterion_id"`
	Value       string     `json:"value"`
	Pages       int        `json:"pages"`
	Records     int        `json:"records"`
	Retries     int        `json:"retries"`
	StopReason  StopReason `json:"stop_reason"`
	Error       string     `json:"error,omitempty"`
}

// SearchMetadata carries the health of a search session
type SearchMetadata struct {
	Success        bool               `json:"success"`
	Intent         string             `json:"intent"`
	Strategy       SearchStrategy     `json:"strategy"`
	APIErrors      []string           `json:"api_errors"`
	EarlyStopped   bool               `json:"early_stopped"`
	StopReasons    []string           `json:"stop_reasons,omitempty"`
	PagesFetched   int                `json:"pages_fetched"`
	RecordsFetched int                `json:"records_fetched"`
	UniqueRecords  int                `json:"unique_records"`
	ExactMatches   int                `json:"exact_matches"`
	PartialMatches int                `json:"partial_matches"`
	Criteria       []CriterionSummary `json:"criteria"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    time.Time          `json:"completed_at"`
	DurationMs     int64              `json:"duration_ms"`
	Cached         bool               `json:"cached"`
}

// SearchResponse is the full answer to one investigator query
type SearchResponse struct {
	SessionID     string             `json:"session_id"`
	Query         string             `json:"query"`
	Criteria      []Criterion        `json:"criteria"`
	Extraction    *ExtractionResult  `json:"extraction,omitempty"`
	RawRecords    []StoredRecord     `json:"raw_records"`
	RankedResults []RankedResult     `json:"ranked_results"`
	Graph         *KnowledgeGraph    `json:"graph"`
	Analysis      *CorrelationResult `json:"analysis"`
	Insights      []Insight          `json:"insights"`
	Metadata      SearchMetadata     `json:"metadata"`
}

// SessionSummary is the audit row of one search session. It carries counts only,
// never the query text or records.
type SessionSummary struct {
	SessionID      string    `json:"session_id"`
	QueryHash      string    `json:"query_hash"`
	Intent         string    `json:"intent"`
	CriteriaCount  int       `json:"criteria_count"`
	PagesFetched   int       `json:"pages_fetched"`
	RecordsFetched int       `json:"records_fetched"`
	UniqueRecords  int       `json:"unique_records"`
	ExactMatches   int       `json:"exact_matches"`
	GraphNodes     int       `json:"graph_nodes"`
	GraphEdges     int       `json:"graph_edges"`
	EarlyStopped   bool      `json:"early_stopped"`
	ErrorCount     int       `json:"error_count"`
	Cached         bool      `json:"cached"`
	DurationMs     int64     `json:"duration_ms"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Summary condenses a response into its audit row
func (r *SearchResponse) Summary(queryHash string) SessionSummary {
	s := SessionSummary{
		SessionID:      r.SessionID,
		QueryHash:      queryHash,
		Intent:         r.Metadata.Intent,
		CriteriaCount:  len(r.Criteria),
		PagesFetched:   r.Metadata.PagesFetched,
		RecordsFetched: r.Metadata.RecordsFetched,
		UniqueRecords:  r.Metadata.UniqueRecords,
		ExactMatches:   r.Metadata.ExactMatches,
		EarlyStopped:   r.Metadata.EarlyStopped,
		ErrorCount:     len(r.Metadata.APIErrors),
		Cached:         r.Metadata.Cached,
		DurationMs:     r.Metadata.DurationMs,
		StartedAt:      r.Metadata.StartedAt,
		CompletedAt:    r.Metadata.CompletedAt,
	}
	if r.Graph != nil {
		s.GraphNodes = len(r.Graph.Nodes)
		s.GraphEdges = len(r.Graph.Edges)
	}
	return s
}
