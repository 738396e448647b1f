package models

import "time"

// SearchPage is one response page of the external search index
type SearchPage struct {
	Results    map[string][]map[string]any `json:"results"`
	HasMore    bool                        `json:"has_more"`
	NextCursor *string                     `json:"next_cursor"`
}

// Cursor returns the next cursor or "" when the server sent none
func (p *SearchPage) Cursor() string {
	if p.NextCursor == nil {
		return ""
	}
	return *p.NextCursor
}

// Count returns the number of records across all tables of the page
func (p *SearchPage) Count() int {
	n := 0
	for _, rows := range p.Results {
		n += len(rows)
	}
	return n
}

// StoredRecord is a deduplicated record plus the criteria it matched
type StoredRecord struct {
	Key             string         `json:"key"`
	Table           string         `json:"table"`
	Fields          map[string]any `json:"fields"`
	MatchedCriteria []string       `json:"matched_criteria"`
	MatchCount      int            `json:"match_count"`
	RelevanceScore  float64        `json:"relevance_score"`
	FirstSeen       time.Time      `json:"first_seen"`
}

// HasCriterion reports whether the record already matched a criterion
func (r *StoredRecord) HasCriterion(id string) bool {
	for _, c := range r.MatchedCriteria {
		if c == id {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with the receiver.
// Field values are shared; records are read-only once frozen.
func (r *StoredRecord) Clone() StoredRecord {
	out := *r
	out.MatchedCriteria = append([]string(nil), r.MatchedCriteria...)
	return out
}

// MatchType partitions ranked results
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchPartial MatchType = "partial"
)

// RankedResult is a stored record after filtering and scoring
type RankedResult struct {
	Record       StoredRecord         `json:"record"`
	MatchType    MatchType            `json:"match_type"`
	Score        float64              `json:"score"`
	Breakdown    map[Category]float64 `json:"breakdown"`
	Explanations []string             `json:"explanations"`
}
