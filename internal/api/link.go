package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

// startLinkRequest is the body of POST /link/start.
type startLinkRequest struct {
	URL string `json:"url"`
}

// handleGetLink returns link state and counters.
func (s *Server) handleGetLink(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.link.Stats())
}

// handleStartLink starts the link, or restarts it on a different URL.
//
// Request body (optional):
//   - url: opc.tcp endpoint; falls back to the last URL, then the active
//     profile's URL
//
// Responds 202 with link stats; the connection itself completes in the
// background.
func (s *Server) handleStartLink(w http.ResponseWriter, r *http.Request) {
	var req startLinkRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	url := req.URL
	if url == "" {
		url = s.link.URL()
	}
	if url == "" {
		if p, err := s.profiles.GetActive(r.Context()); err == nil {
			url = p.URL
		}
	}
	if url == "" {
		writeBadRequest(w, "url is required")
		return
	}
	if !strings.HasPrefix(url, "opc.tcp://") {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "url must start with opc.tcp://")
		return
	}

	s.restartLink(url)
	writeJSON(w, http.StatusAccepted, s.link.Stats())
}

// handleStopLink stops the link. Subscriptions are kept.
func (s *Server) handleStopLink(w http.ResponseWriter, _ *http.Request) {
	s.link.Stop()
	s.logger.Info("controller link stopped via API")
	writeJSON(w, http.StatusOK, s.link.Stats())
}

// restartLink starts the link on url, stopping it first when it is running
// against a different endpoint.
func (s *Server) restartLink(url string) {
	if s.link.IsRunning() {
		if s.link.URL() == url {
			return
		}
		s.link.Stop()
	}
	s.logger.Info("starting controller link", "url", url)
	s.link.Start(url)
}
