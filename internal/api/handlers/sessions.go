package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tracelink-lab/internal/domain/models"
	"tracelink-lab/internal/infrastructure/database/repository"
	"tracelink-lab/pkg/logger"
)

// SessionStore reads the session audit log
type SessionStore interface {
	ListRecent(ctx context.Context, limit int) ([]models.SessionSummary, error)
	GetByID(ctx context.Context, sessionID string) (*models.SessionSummary, error)
	CountByQueryHash(ctx context.Context, queryHash string) (int64, error)
}

// SessionsHandler serves the audit log of past search sessions
type SessionsHandler struct {
	store  SessionStore
	logger *logger.Logger
}

// NewSessionsHandler creates a new sessions handler. store may be nil when
// auditing is disabled.
func NewSessionsHandler(store SessionStore, log *logger.Logger) *SessionsHandler {
	return &SessionsHandler{
		store:  store,
		logger: log.WithComponent("sessions-handler"),
	}
}

// SessionDetail is one audit row plus how often the same query was run
type SessionDetail struct {
	Session     *models.SessionSummary `json:"session"`
	RepeatCount int64                  `json:"repeat_count"`
}

// List handles GET /api/v1/sessions?limit=
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, h.logger, http.StatusServiceUnavailable, "session audit not available", nil)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, h.logger, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	sessions, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "failed to list sessions", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// Get handles GET /api/v1/sessions/{id}
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, h.logger, http.StatusServiceUnavailable, "session audit not available", nil)
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid session id", err)
		return
	}

	session, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		respondError(w, h.logger, http.StatusNotFound, "session not found", nil)
		return
	}
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "failed to get session", err)
		return
	}

	repeats, err := h.store.CountByQueryHash(r.Context(), session.QueryHash)
	if err != nil {
		h.logger.Warn().Err(err).Str("session_id", id).Msg("failed to count repeated queries")
	}

	respondJSON(w, h.logger, http.StatusOK, SessionDetail{Session: session, RepeatCount: repeats})
}
