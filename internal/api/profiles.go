package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/plclink/internal/profile"
)

// profileRequest is the body of profile create and update.
type profileRequest struct {
	Name      string             `json:"name"`
	URL       string             `json:"url"`
	Variables []profile.Variable `json:"variables"`
}

func (req profileRequest) toProfile() *profile.Profile {
	return &profile.Profile{Name: req.Name, URL: req.URL, Variables: req.Variables}
}

// writeProfileError maps profile errors to responses.
func writeProfileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, profile.ErrNotFound):
		writeNotFound(w, "profile not found")
	case errors.Is(err, profile.ErrInvalidProfile):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, profile.ErrExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

// handleListProfiles returns all stored profiles.
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.profiles.List(r.Context())
	if err != nil {
		writeProfileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

// handleCreateProfile validates and stores a new profile.
func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	p := req.toProfile()
	if err := s.profiles.Create(r.Context(), p); err != nil {
		writeProfileError(w, err)
		return
	}
	s.logger.Info("profile created", "id", p.ID, "name", p.Name)
	writeJSON(w, http.StatusCreated, p)
}

// handleGetProfile returns a single profile by ID.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeProfileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleUpdateProfile replaces a profile's name, URL and variables.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	p := req.toProfile()
	p.ID = chi.URLParam(r, "id")
	if err := s.profiles.Update(r.Context(), p); err != nil {
		writeProfileError(w, err)
		return
	}
	updated, err := s.profiles.Get(r.Context(), p.ID)
	if err != nil {
		writeProfileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteProfile removes a profile by ID.
func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.profiles.Delete(r.Context(), id); err != nil {
		writeProfileError(w, err)
		return
	}
	s.logger.Info("profile deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleActivateProfile marks a profile active, subscribes its variables
// and points the link at its URL. Subscriptions from a previously active
// profile stay registered; the registry only grows.
func (s *Server) handleActivateProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.profiles.SetActive(r.Context(), id); err != nil {
		writeProfileError(w, err)
		return
	}
	p, err := s.profiles.Get(r.Context(), id)
	if err != nil {
		writeProfileError(w, err)
		return
	}

	added := profile.Apply(s.link, p)
	s.restartLink(p.URL)
	s.logger.Info("profile activated", "id", p.ID, "name", p.Name, "url", p.URL, "subscribed", added)

	writeJSON(w, http.StatusOK, map[string]any{
		"profile":    p,
		"subscribed": added,
		"link":       s.link.Stats(),
	})
}
