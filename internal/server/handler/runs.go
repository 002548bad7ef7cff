package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// RunsHandler serves build run history.
type RunsHandler struct {
	runs   domain.RunStore
	cache  domain.RunCache
	logger *slog.Logger
}

// NewRunsHandler creates a RunsHandler. cache may be nil.
func NewRunsHandler(runs domain.RunStore, cache domain.RunCache, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{runs: runs, cache: cache, logger: logHandler(logger, "runs")}
}

// ListRuns returns recent runs, newest first.
// GET /api/runs?since=&until=&limit=&offset=
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := h.runs.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list runs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []domain.BuildRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// LatestRun returns the most recent run, from the cache when possible.
// GET /api/runs/latest
func (h *RunsHandler) LatestRun(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		run, err := h.cache.GetLatest(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, run)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "latest run cache read failed", slog.String("error", err.Error()))
		}
	}

	runs, err := h.runs.ListRecent(r.Context(), domain.ListOpts{Limit: 1})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "latest run query failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}
	if len(runs) == 0 {
		writeError(w, http.StatusNotFound, "no runs yet")
		return
	}
	writeJSON(w, http.StatusOK, runs[0])
}

// GetRun returns one run.
// GET /api/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	run, err := h.runs.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get run failed",
			slog.String("run_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
