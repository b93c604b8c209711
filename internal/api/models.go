package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"runforge/internal/model"
	"runforge/internal/store"
)

// slugPattern constrains model slugs to URL-safe lowercase identifiers.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// createModelRequest is the JSON body for POST /v1/models.
type createModelRequest struct {
	Slug        string                 `json:"slug"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	EndpointID  string                 `json:"endpoint_id"`
	Overrides   *model.ConfigOverrides `json:"overrides"`
}

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	developerID, ok := s.developerID(w, r)
	if !ok {
		return
	}

	var req createModelRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !slugPattern.MatchString(req.Slug) {
		s.writeError(w, http.StatusBadRequest, "slug must be lowercase letters, digits, and hyphens")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.EndpointID == "" {
		s.writeError(w, http.StatusBadRequest, "endpoint_id is required")
		return
	}

	now := time.Now().UTC()
	md := &model.ModelDefinition{
		ID:             model.NewID(),
		Slug:           req.Slug,
		Name:           req.Name,
		Description:    req.Description,
		OwnerID:        developerID,
		EndpointID:     req.EndpointID,
		EndpointActive: true,
		Published:      false, // models launch as drafts
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Overrides != nil {
		md.Overrides = *req.Overrides
	}

	if err := s.store.CreateModel(r.Context(), md); err != nil {
		if errors.Is(err, store.ErrSlugTaken) {
			s.writeError(w, http.StatusConflict, "model slug already taken")
			return
		}
		s.logger.Error("create model", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create model")
		return
	}

	s.writeJSON(w, http.StatusCreated, md)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	// Unpublished drafts are only listed for callers with a developer
	// identity asking for them.
	publishedOnly := true
	if r.URL.Query().Get("all") == "1" && r.Header.Get(headerDeveloperID) != "" {
		publishedOnly = false
	}

	models, err := s.store.ListModels(r.Context(), publishedOnly)
	if err != nil {
		s.logger.Error("list models", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list models")
		return
	}

	if models == nil {
		models = []*model.ModelDefinition{}
	}
	s.writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	md, err := s.store.GetModelBySlug(r.Context(), slug)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		s.logger.Error("get model", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get model")
		return
	}

	// Drafts are only visible to their owner.
	if !md.Published && r.Header.Get(headerDeveloperID) != md.OwnerID {
		s.writeError(w, http.StatusNotFound, "model not found")
		return
	}

	s.writeJSON(w, http.StatusOK, md)
}

func (s *Server) handlePublishModel(w http.ResponseWriter, r *http.Request) {
	s.setPublished(w, r, true)
}

func (s *Server) handleUnpublishModel(w http.ResponseWriter, r *http.Request) {
	s.setPublished(w, r, false)
}

// setPublished toggles a model's published flag on behalf of its owner.
// Non-owners get the same not-found as a missing slug.
func (s *Server) setPublished(w http.ResponseWriter, r *http.Request, published bool) {
	developerID, ok := s.developerID(w, r)
	if !ok {
		return
	}
	slug := chi.URLParam(r, "slug")

	md, err := s.store.GetModelBySlug(r.Context(), slug)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		s.logger.Error("get model", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get model")
		return
	}
	if md.OwnerID != developerID {
		s.writeError(w, http.StatusNotFound, "model not found")
		return
	}

	md.Published = published
	md.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateModel(r.Context(), md); err != nil {
		s.logger.Error("update model", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update model")
		return
	}

	s.writeJSON(w, http.StatusOK, md)
}
