package streaming

import (
	"time"

	"github.com/google/uuid"

	"tracelink-lab/internal/domain/models"
)

// EventType represents the type of search event
type EventType string

const (
	EventTypeProgress  EventType = "progress"
	EventTypeCompleted EventType = "completed"
)

// SearchEvent is a real-time update about a running or finished search session
type SearchEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`

	Progress *models.ProgressEvent  `json:"progress,omitempty"`
	Summary  *models.SessionSummary `json:"summary,omitempty"`
}

// NewProgressEvent wraps a pipeline progress event
func NewProgressEvent(p models.ProgressEvent) *SearchEvent {
	return &SearchEvent{
		ID:        uuid.New().String(),
		Type:      EventTypeProgress,
		Timestamp: p.Timestamp,
		SessionID: p.SessionID,
		Progress:  &p,
	}
}

// NewCompletedEvent wraps the audit summary of a finished session
func NewCompletedEvent(s models.SessionSummary) *SearchEvent {
	return &SearchEvent{
		ID:        uuid.New().String(),
		Type:      EventTypeCompleted,
		Timestamp: s.CompletedAt,
		SessionID: s.SessionID,
		Summary:   &s,
	}
}

// Subscription represents a client's subscription preferences
type Subscription struct {
	// Only events of these sessions (empty = all)
	SessionIDs []string `json:"session_ids,omitempty"`

	// Only these event types (empty = all)
	Types []EventType `json:"types,omitempty"`

	// Only progress events at these stages (empty = all)
	Stages []models.ProgressStage `json:"stages,omitempty"`
}

// Matches checks if an event matches the subscription filters
func (s *Subscription) Matches(event *SearchEvent) bool {
	if len(s.SessionIDs) > 0 && !contains(s.SessionIDs, event.SessionID) {
		return false
	}
	if len(s.Types) > 0 && !contains(s.Types, event.Type) {
		return false
	}
	if len(s.Stages) > 0 && event.Progress != nil && !contains(s.Stages, event.Progress.Stage) {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
