package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"tracelink-lab/internal/domain/models"
	"tracelink-lab/internal/domain/services"
	"tracelink-lab/internal/streaming"
	"tracelink-lab/pkg/logger"
)

// maxBodyBytes bounds request bodies of the search endpoints
const maxBodyBytes = 1 << 20

// SearchRunner is the search pipeline as seen by the HTTP layer
type SearchRunner interface {
	Search(ctx context.Context, query string, progress models.ProgressFunc) (*models.SearchResponse, error)
	Extract(text string) (*models.ExtractionResult, *models.SearchPlan, error)
}

// SearchHandler handles investigator search requests
type SearchHandler struct {
	runner SearchRunner
	logger *logger.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(runner SearchRunner, log *logger.Logger) *SearchHandler {
	return &SearchHandler{
		runner: runner,
		logger: log.WithComponent("search-handler"),
	}
}

// SearchRequest is the body of POST /api/v1/search
type SearchRequest struct {
	Query string `json:"query"`
}

// ExtractRequest is the body of POST /api/v1/extract
type ExtractRequest struct {
	Text string `json:"text"`
}

// ExtractResponse pairs the extracted entities with the plan they produce
type ExtractResponse struct {
	Extraction *models.ExtractionResult `json:"extraction"`
	Plan       *models.SearchPlan       `json:"plan"`
}

// Search handles POST /api/v1/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}

	resp, err := h.runner.Search(r.Context(), req.Query, nil)
	if err != nil {
		h.respondSearchError(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, resp)
}

// SearchStream handles GET /api/v1/search/ws?q=... and streams progress
// messages followed by the final response over a websocket
func (h *SearchHandler) SearchStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if _, err := services.ValidateQuery(query); err != nil {
		h.respondSearchError(w, err)
		return
	}

	streaming.ServeSession(w, r, h.logger, func(ctx context.Context, progress models.ProgressFunc) (any, error) {
		return h.runner.Search(ctx, query, progress)
	})
}

// Extract handles POST /api/v1/extract
func (h *SearchHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}

	extraction, plan, err := h.runner.Extract(req.Text)
	if err != nil {
		h.respondSearchError(w, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, ExtractResponse{Extraction: extraction, Plan: plan})
}

func (h *SearchHandler) respondSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrEmptyQuery), errors.Is(err, services.ErrInvalidQuery):
		respondError(w, h.logger, http.StatusBadRequest, "invalid query", err)
	default:
		respondError(w, h.logger, http.StatusInternalServerError, "search failed", err)
	}
}
