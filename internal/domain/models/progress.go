package models

import "time"

// ProgressStage is a named phase of a search session
type ProgressStage string

const (
	StageParsing    ProgressStage = "parsing"
	StageSearching  ProgressStage = "searching"
	StagePaginating ProgressStage = "paginating"
	StageFiltering  ProgressStage = "filtering"
	StageAnalyzing  ProgressStage = "analyzing"
	StageComplete   ProgressStage = "complete"
)

// ProgressEvent is emitted while a search runs. Progress never decreases within a session.
type ProgressEvent struct {
	SessionID string        `json:"session_id"`
	Stage     ProgressStage `json:"stage"`
	Progress  int           `json:"progress"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// ProgressFunc receives progress events. It must not block for long.
type ProgressFunc func(ProgressEvent)
