package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

// EntityGraph queries the cross-session entity graph
type EntityGraph interface {
	SessionsForEntity(ctx context.Context, nodeID string) ([]string, error)
	Neighborhood(ctx context.Context, nodeID string, depth, limit int) ([]models.GraphNode, error)
}

// EntitiesHandler serves lookups over exported session graphs
type EntitiesHandler struct {
	graph  EntityGraph
	logger *logger.Logger
}

// NewEntitiesHandler creates a new entities handler. graph may be nil when
// graph export is disabled.
func NewEntitiesHandler(graph EntityGraph, log *logger.Logger) *EntitiesHandler {
	return &EntitiesHandler{
		graph:  graph,
		logger: log.WithComponent("entities-handler"),
	}
}

// Sessions handles GET /api/v1/entities/{id}/sessions
func (h *EntitiesHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeID(w, r)
	if !ok {
		return
	}

	sessions, err := h.graph.SessionsForEntity(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "failed to load entity sessions", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"entity_id": id,
		"sessions":  sessions,
	})
}

// Neighborhood handles GET /api/v1/entities/{id}/neighborhood?depth=&limit=
func (h *EntitiesHandler) Neighborhood(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeID(w, r)
	if !ok {
		return
	}

	depth, err := intParam(r, "depth", 2)
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid depth", err)
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid limit", err)
		return
	}

	nodes, err := h.graph.Neighborhood(r.Context(), id, depth, limit)
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "failed to load neighborhood", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"entity_id": id,
		"nodes":     nodes,
		"count":     len(nodes),
	})
}

// nodeID reads the {id} path segment; node ids look like "phone:9876543210"
func (h *EntitiesHandler) nodeID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.graph == nil {
		respondError(w, h.logger, http.StatusServiceUnavailable, "entity graph not available", nil)
		return "", false
	}
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || id == "" {
		respondError(w, h.logger, http.StatusBadRequest, "invalid entity id", err)
		return "", false
	}
	return id, true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
