package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/h2oai/h2o-3-sub001/internal/model"
	"github.com/h2oai/h2o-3-sub001/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs   []*store.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// listResultsResponse is the JSON response for GET /v1/runs/{id}/results.
type listResultsResponse struct {
	RunID   string         `json:"run_id"`
	Results []model.Result `json:"results"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}

	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("list runs")
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*store.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("get run")
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetRun(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	} else if err != nil {
		s.logger.WithError(err).Error("get run for results")
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	results, err := s.store.ListResults(r.Context(), id)
	if err != nil {
		s.logger.WithError(err).Error("list results")
		s.writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if results == nil {
		results = []model.Result{}
	}

	s.writeJSON(w, http.StatusOK, listResultsResponse{RunID: id, Results: results})
}

func (s *Server) historyEnabled(w http.ResponseWriter) bool {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "run history is disabled")
		return false
	}
	return true
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("encode response")
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
