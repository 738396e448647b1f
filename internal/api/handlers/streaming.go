package handlers

import (
	"net/http"

	"tracelink-lab/internal/streaming"
	"tracelink-lab/pkg/logger"
)

// StreamingHandler handles real-time session watch endpoints
type StreamingHandler struct {
	wsHub    *streaming.WebSocketHub
	eventBus *streaming.EventBus
	logger   *logger.Logger
}

// NewStreamingHandler creates a new streaming handler
func NewStreamingHandler(wsHub *streaming.WebSocketHub, eventBus *streaming.EventBus, log *logger.Logger) *StreamingHandler {
	return &StreamingHandler{
		wsHub:    wsHub,
		eventBus: eventBus,
		logger:   log.WithComponent("streaming-handler"),
	}
}

// HandleWebSocket handles GET /api/v1/stream/ws for watching sessions
// started elsewhere; ?session_id= narrows the feed to one session
func (h *StreamingHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		respondError(w, h.logger, http.StatusServiceUnavailable, "websocket streaming not available", nil)
		return
	}

	h.logger.Debug().
		Str("remote_addr", r.RemoteAddr).
		Str("user_agent", r.UserAgent()).
		Msg("WebSocket connection request")

	h.wsHub.ServeWebSocket(w, r)
}

// GetStats returns streaming statistics
func (h *StreamingHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]int{
		"websocket_clients":     0,
		"event_bus_subscribers": 0,
	}

	if h.wsHub != nil {
		stats["websocket_clients"] = h.wsHub.ClientCount()
	}

	if h.eventBus != nil {
		stats["event_bus_subscribers"] = h.eventBus.SubscriberCount()
	}

	respondJSON(w, h.logger, http.StatusOK, stats)
}
