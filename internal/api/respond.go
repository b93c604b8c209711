package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"runforge/internal/engine"
	"runforge/internal/provider"
)

// Identity headers set by the upstream auth gateway. The API trusts them
// as opaque identifiers; authentication itself happens before requests
// reach this service.
const (
	headerConsumerID  = "X-Consumer-Id"
	headerDeveloperID = "X-Developer-Id"
)

// errorResponse is the JSON error body. Code is a stable identifier for
// client-side branching.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response without a code.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// writeEngineError maps engine and provider errors to HTTP status codes
// and stable error codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrModelNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: engine.Code(err)})
	case errors.Is(err, engine.ErrModelNotPublished):
		s.writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Code: engine.Code(err)})
	case errors.Is(err, engine.ErrEndpointNotActive):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: engine.Code(err)})
	case errors.Is(err, engine.ErrExecutionNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: engine.Code(err)})
	case errors.Is(err, engine.ErrExecutionNotCancellable):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: engine.Code(err)})
	case errors.Is(err, provider.ErrTimeout):
		s.writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "compute provider timed out", Code: provider.CodeTimeout})
	case errors.Is(err, provider.ErrRateLimited):
		s.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "compute provider rate limited", Code: provider.CodeRateLimited})
	default:
		var reqErr *provider.RequestError
		if errors.As(err, &reqErr) {
			s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: "compute provider request failed", Code: provider.CodeRequestFailed})
			return
		}
		s.logger.Error("internal error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// consumerID extracts the consumer identity header, writing a 401 and
// returning false when it is missing.
func (s *Server) consumerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(headerConsumerID)
	if id == "" {
		s.writeError(w, http.StatusUnauthorized, "missing "+headerConsumerID+" header")
		return "", false
	}
	return id, true
}

// developerID extracts the developer identity header, writing a 401 and
// returning false when it is missing.
func (s *Server) developerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(headerDeveloperID)
	if id == "" {
		s.writeError(w, http.StatusUnauthorized, "missing "+headerDeveloperID+" header")
		return "", false
	}
	return id, true
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
