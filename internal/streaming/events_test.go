package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tracelink-lab/internal/domain/models"
)

func TestSubscriptionMatches(t *testing.T) {
	progress := NewProgressEvent(models.ProgressEvent{
		SessionID: "s1", Stage: models.StagePaginating, Progress: 40, Timestamp: time.Now(),
	})
	completed := NewCompletedEvent(models.SessionSummary{SessionID: "s1"})

	tests := []struct {
		name  string
		sub   Subscription
		event *SearchEvent
		want  bool
	}{
		{"empty matches all", Subscription{}, progress, true},
		{"session match", Subscription{SessionIDs: []string{"s1"}}, progress, true},
		{"session mismatch", Subscription{SessionIDs: []string{"s2"}}, progress, false},
		{"type filter", Subscription{Types: []EventType{EventTypeCompleted}}, progress, false},
		{"type filter completed", Subscription{Types: []EventType{EventTypeCompleted}}, completed, true},
		{"stage match", Subscription{Stages: []models.ProgressStage{models.StagePaginating}}, progress, true},
		{"stage mismatch", Subscription{Stages: []models.ProgressStage{models.StageAnalyzing}}, progress, false},
		{"stage ignores summaries", Subscription{Stages: []models.ProgressStage{models.StageAnalyzing}}, completed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.Matches(tt.event))
		})
	}
}

func TestNewEvents(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ev := NewProgressEvent(models.ProgressEvent{SessionID: "s1", Stage: models.StageParsing, Progress: 5, Timestamp: at})
	assert.Equal(t, EventTypeProgress, ev.Type)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, at, ev.Timestamp)
	assert.NotEmpty(t, ev.ID)
	assert.Nil(t, ev.Summary)

	done := NewCompletedEvent(models.SessionSummary{SessionID: "s1", CompletedAt: at, UniqueRecords: 3})
	assert.Equal(t, EventTypeCompleted, done.Type)
	assert.Equal(t, 3, done.Summary.UniqueRecords)
	assert.Nil(t, done.Progress)
}
