package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"tracelink-lab/internal/domain/services"
	"tracelink-lab/pkg/logger"
)

// ResponseInvalidator drops cached search responses
type ResponseInvalidator interface {
	InvalidateResponse(ctx context.Context, key string) error
}

// CacheHandler lets investigators force a fresh search for a query
type CacheHandler struct {
	cache  ResponseInvalidator
	logger *logger.Logger
}

// NewCacheHandler creates a new cache handler. cache may be nil when the
// response cache is disabled.
func NewCacheHandler(cache ResponseInvalidator, log *logger.Logger) *CacheHandler {
	return &CacheHandler{
		cache:  cache,
		logger: log.WithComponent("cache-handler"),
	}
}

// Invalidate handles DELETE /api/v1/search/cache with body {"query": "..."}
func (h *CacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		respondError(w, h.logger, http.StatusServiceUnavailable, "response cache not available", nil)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	query, err := services.ValidateQuery(req.Query)
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid query", err)
		return
	}

	key := services.CacheKey(query)
	if err := h.cache.InvalidateResponse(r.Context(), key); err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "failed to invalidate cached response", err)
		return
	}

	h.logger.Info().Str("key", key).Msg("cached response invalidated")
	respondJSON(w, h.logger, http.StatusOK, map[string]string{"key": key})
}
