package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"runforge/internal/model"
	"runforge/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// submitJobRequest is the JSON body for POST /v1/models/{slug}/jobs.
type submitJobRequest struct {
	Input map[string]any `json:"input"`
}

// listJobsResponse wraps the paginated execution history response.
type listJobsResponse struct {
	Executions []*model.Execution `json:"executions"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	consumerID, ok := s.consumerID(w, r)
	if !ok {
		return
	}
	slug := chi.URLParam(r, "slug")

	var req submitJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	handle, err := s.engine.SubmitJob(r.Context(), consumerID, slug, req.Input)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, handle)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	consumerID, ok := s.consumerID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	result, err := s.engine.GetJobStatus(r.Context(), id, consumerID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	consumerID, ok := s.consumerID(w, r)
	if !ok {
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

	executions, total, err := s.store.ListExecutions(r.Context(), consumerID, limit, offset)
	if err != nil {
		s.logger.Error("list executions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	if executions == nil {
		executions = []*model.Execution{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Executions: executions,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	consumerID, ok := s.consumerID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := s.engine.CancelJob(r.Context(), id, consumerID); err != nil {
		s.writeEngineError(w, err)
		return
	}

	ex, err := s.store.GetExecutionForConsumer(r.Context(), id, consumerID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.logger.Error("get cancelled execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve execution")
		return
	}

	s.writeJSON(w, http.StatusOK, ex)
}
