package api

import (
	"net/http"

	"runforge/internal/model"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int                  `json:"total"`
	ByStatus      map[model.Status]int `json:"by_status"`
	ByModel       map[string]int       `json:"by_model"`
	AvgDurationMS float64              `json:"avg_duration_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetExecutionStats(r.Context())
	if err != nil {
		s.logger.Error("get execution stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByModel:       stats.CountByModel,
		AvgDurationMS: stats.AvgDurationMS,
	})
}
