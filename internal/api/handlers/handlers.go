package handlers

import (
	"encoding/json"
	"net/http"

	"tracelink-lab/internal/streaming"
	"tracelink-lab/pkg/logger"
)

// Handlers holds all API handlers
type Handlers struct {
	Health    *HealthHandler
	Search    *SearchHandler
	Cache     *CacheHandler
	Sessions  *SessionsHandler
	Entities  *EntitiesHandler
	Stats     *StatsHandler
	Streaming *StreamingHandler
}

// Dependencies holds dependencies for handlers. Optional backends left
// nil make their routes answer 503.
type Dependencies struct {
	Search   SearchRunner
	Cache    ResponseInvalidator
	Sessions SessionStore
	Entities EntityGraph
	Stats    map[string]StatsSource
	Checks   map[string]Check
	WSHub    *streaming.WebSocketHub
	EventBus *streaming.EventBus
	Version  string
	Logger   *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Checks, deps.Version, deps.Logger),
		Search:    NewSearchHandler(deps.Search, deps.Logger),
		Cache:     NewCacheHandler(deps.Cache, deps.Logger),
		Sessions:  NewSessionsHandler(deps.Sessions, deps.Logger),
		Entities:  NewEntitiesHandler(deps.Entities, deps.Logger),
		Stats:     NewStatsHandler(deps.Stats, deps.Logger),
		Streaming: NewStreamingHandler(deps.WSHub, deps.EventBus, deps.Logger),
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, log *logger.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, log *logger.Logger, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil {
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Msg(message)
		}
		body["details"] = err.Error()
	}
	respondJSON(w, log, status, body)
}
