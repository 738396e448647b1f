package models

import "time"

// PatternType represents the type of pattern detected
type PatternType string

const (
	PatternFrequency PatternType = "frequency"
	PatternCircular  PatternType = "circular"
	PatternTemporal  PatternType = "temporal"
	PatternSpatial   PatternType = "spatial"
)

// DetectedPattern is a structural regularity found in the graph
type DetectedPattern struct {
	ID           string      `json:"id"`
	Type         PatternType `json:"type"`
	Description  string      `json:"description"`
	NodeIDs      []string    `json:"node_ids"`
	EdgeIDs      []string    `json:"edge_ids,omitempty"`
	Occurrences  int         `json:"occurrences"`
	Significance float64     `json:"significance"`
}

// AnomalyType represents the family of an anomaly detector
type AnomalyType string

const (
	AnomalyStatistical AnomalyType = "statistical"
	AnomalyBehavioral  AnomalyType = "behavioral"
	AnomalyRelational  AnomalyType = "relational"
)

// Severity is the band of a risk or anomaly
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Anomaly is a node or edge that deviates from its surroundings
type Anomaly struct {
	ID          string      `json:"id"`
	Type        AnomalyType `json:"type"`
	Description string      `json:"description"`
	NodeIDs     []string    `json:"node_ids"`
	EdgeIDs     []string    `json:"edge_ids,omitempty"`
	Score       float64     `json:"score"`
	Severity    Severity    `json:"severity"`
}

// RiskFactor is one normalised contribution to a node's risk
type RiskFactor struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// RiskIndicator is the banded risk of a single node
type RiskIndicator struct {
	ID          string       `json:"id"`
	NodeID      string       `json:"node_id"`
	Score       float64      `json:"score"`
	Severity    Severity     `json:"severity"`
	Factors     []RiskFactor `json:"factors"`
	Description string       `json:"description"`
}

// InsightCategory tells which analysis produced an insight
type InsightCategory string

const (
	InsightPattern InsightCategory = "pattern"
	InsightAnomaly InsightCategory = "anomaly"
	InsightRisk    InsightCategory = "risk"
)

// Insight is a human-readable investigative lead
type Insight struct {
	ID               string          `json:"id"`
	Category         InsightCategory `json:"category"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Confidence       float64         `json:"confidence"`
	NodeIDs          []string        `json:"node_ids"`
	SuggestedActions []string        `json:"suggested_actions"`
	SourceID         string          `json:"source_id"`
}

// TimelineKind is the kind of graph event
type TimelineKind string

const (
	TimelineNodeCreated TimelineKind = "node_created"
	TimelineEdgeCreated TimelineKind = "edge_created"
)

// TimelineEvent is one dated creation in the graph
type TimelineEvent struct {
	Timestamp   time.Time    `json:"timestamp"`
	Kind        TimelineKind `json:"kind"`
	RefID       string       `json:"ref_id"`
	Description string       `json:"description"`
}

// CorrelationResult holds every derived output of one analysis run
type CorrelationResult struct {
	Patterns       []DetectedPattern `json:"patterns"`
	Anomalies      []Anomaly         `json:"anomalies"`
	RiskIndicators []RiskIndicator   `json:"risk_indicators"`
	Insights       []Insight         `json:"insights"`
	Timeline       []TimelineEvent   `json:"timeline"`
}
