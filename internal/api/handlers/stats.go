package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"tracelink-lab/pkg/logger"
)

// StatsSource reports the current statistics of one backend
type StatsSource func(ctx context.Context) (any, error)

// StatsHandler aggregates backend statistics
type StatsHandler struct {
	sources map[string]StatsSource
	logger  *logger.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(sources map[string]StatsSource, log *logger.Logger) *StatsHandler {
	return &StatsHandler{
		sources: sources,
		logger:  log.WithComponent("stats-handler"),
	}
}

// BackendStats is the entry of one backend; Error is set when it could not report
type BackendStats struct {
	Stats any    `json:"stats,omitempty"`
	Error string `json:"error,omitempty"`
}

// Get handles GET /api/v1/stats. A failing backend is reported inline.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.sources))
	for name := range h.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]BackendStats, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			stats, err := h.sources[name](ctx)
			if err != nil {
				h.logger.Warn().Err(err).Str("backend", name).Msg("stats unavailable")
				results[i] = BackendStats{Error: err.Error()}
				return nil
			}
			results[i] = BackendStats{Stats: stats}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]BackendStats, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	respondJSON(w, h.logger, http.StatusOK, out)
}
