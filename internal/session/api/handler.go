/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-logr/logr"

	"github.com/promptwire/promptwire/internal/session"
)

// Handler constants.
const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"

	maxRequestBody = 1 << 20 // 1 MiB
)

// CreateSessionRequest is the JSON request to create a design session.
type CreateSessionRequest struct {
	Prompt string `json:"prompt"`
	UserID string `json:"user_id,omitempty"`
}

// EditSessionRequest is the JSON request to apply an edit.
type EditSessionRequest struct {
	EditPrompt string `json:"edit_prompt"`
}

// SessionHistoryResponse is the JSON response for the history endpoint.
type SessionHistoryResponse struct {
	SessionID     string          `json:"session_id"`
	Versions      []VersionDetail `json:"versions"`
	TotalVersions int             `json:"total_versions"`
}

// CompressResponse is the JSON response for the compaction endpoint.
type CompressResponse struct {
	SessionID          string `json:"session_id"`
	VersionsCompressed int    `json:"versions_compressed"`
}

// UserSessionsResponse is the JSON response for the user sessions endpoint.
type UserSessionsResponse struct {
	UserID   string   `json:"user_id"`
	Sessions []string `json:"sessions"`
}

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Handler provides the HTTP endpoints for design sessions.
type Handler struct {
	service *SessionService
	log     logr.Logger
}

// NewHandler creates a new design session API handler.
func NewHandler(service *SessionService, log logr.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.WithName("design-handler"),
	}
}

// RegisterRoutes registers the design session routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/design-sessions", h.handleCreateSession)
	mux.HandleFunc("GET /api/v1/design-sessions/{sessionID}", h.handleGetSession)
	mux.HandleFunc("DELETE /api/v1/design-sessions/{sessionID}", h.handleDeleteSession)
	mux.HandleFunc("POST /api/v1/design-sessions/{sessionID}/edit", h.handleEditSession)
	mux.HandleFunc("GET /api/v1/design-sessions/{sessionID}/history", h.handleGetHistory)
	mux.HandleFunc("GET /api/v1/design-sessions/{sessionID}/diff", h.handleGetDiff)
	mux.HandleFunc("GET /api/v1/design-sessions/{sessionID}/metrics", h.handleGetMetrics)
	mux.HandleFunc("GET /api/v1/design-sessions/{sessionID}/integrity", h.handleGetIntegrity)
	mux.HandleFunc("POST /api/v1/design-sessions/{sessionID}/complete", h.handleCompleteSession)
	mux.HandleFunc("POST /api/v1/design-sessions/{sessionID}/compress", h.handleCompressSession)
	mux.HandleFunc("GET /api/v1/users/{userID}/design-sessions", h.handleGetUserSessions)
}

// handleCreateSession creates a session and its initial wireframe.
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.CreateSession(r.Context(), req.UserID, req.Prompt)
	if err != nil {
		if !errors.Is(err, ErrMissingPrompt) {
			h.log.Error(err, "CreateSession failed")
		}
		writeError(w, err)
		return
	}

	writeJSONStatus(w, http.StatusCreated, result)
}

// handleEditSession applies an edit to an existing session.
func (h *Handler) handleEditSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	var req EditSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.ApplyEdit(r.Context(), sessionID, req.EditPrompt)
	if err != nil {
		if !isClientError(err) {
			h.log.Error(err, "ApplyEdit failed", "sessionID", sessionID)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, result)
}

// handleGetSession returns session details with the current wireframe.
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	details, err := h.service.GetSessionDetails(r.Context(), sessionID)
	if err != nil {
		if !isClientError(err) {
			h.log.Error(err, "GetSessionDetails failed", "sessionID", sessionID)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, details)
}

// handleGetHistory returns the full version history for a session.
func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	versions, err := h.service.GetSessionHistory(r.Context(), sessionID)
	if err != nil {
		if !isClientError(err) {
			h.log.Error(err, "GetSessionHistory failed", "sessionID", sessionID)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, SessionHistoryResponse{
		SessionID:     sessionID,
		Versions:      versions,
		TotalVersions: len(versions),
	})
}

// handleGetDiff returns the differences between two versions.
func (h *Handler) handleGetDiff(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	fromV, err1 := strconv.Atoi(r.URL.Query().Get("from"))
	toV, err2 := strconv.Atoi(r.URL.Query().Get("to"))
	if err1 != nil || err2 != nil || fromV < 1 || toV < 1 {
		writeErrorStatus(w, http.StatusBadRequest, "from and to must be positive version numbers")
		return
	}

	diff, err := h.service.GetVersionDiff(r.Context(), sessionID, fromV, toV)
	if err != nil {
		if !isClientError(err) {
			h.log.Error(err, "GetVersionDiff failed", "sessionID", sessionID)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, diff)
}

// handleGetMetrics returns edit metrics for a session.
func (h *Handler) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	metrics, err := h.service.GetSessionMetrics(r.Context(), sessionID)
	if err != nil {
		if !isClientError(err) {
			h.log.Error(err, "GetSessionMetrics failed", "sessionID", sessionID)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, metrics)
}

// handleGetIntegrity verifies the content hash of every stored version.
func (h *Handler) handleGetIntegrity(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	report, err := h.service.VerifySessionIntegrity(r.Context(), sessionID)
	if err != nil {
		if !isClientError(err) {
			h.log.Error(err, "VerifySessionIntegrity failed", "sessionID", sessionID)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, report)
}

// handleCompleteSession marks a session as completed.
func (h *Handler) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	if err := h.service.CompleteSession(r.Context(), sessionID); err != nil {
		if !isClientError(err) {
			h.log.Error(err, "CompleteSession failed", "sessionID", sessionID)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]string{"session_id": sessionID, "status": "completed"})
}

// handleCompressSession compacts old versions of a session.
func (h *Handler) handleCompressSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	keepRecent := 0
	if s := r.URL.Query().Get("keep_recent"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			writeErrorStatus(w, http.StatusBadRequest, "keep_recent must be a positive integer")
			return
		}
		keepRecent = v
	}

	compressed, err := h.service.CompressSessionVersions(r.Context(), sessionID, keepRecent)
	if err != nil {
		if !isClientError(err) {
			h.log.Error(err, "CompressSessionVersions failed", "sessionID", sessionID)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, CompressResponse{
		SessionID:          sessionID,
		VersionsCompressed: compressed,
	})
}

// handleDeleteSession removes every key belonging to a session.
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	if err := h.service.DeleteSession(r.Context(), sessionID); err != nil {
		if !isClientError(err) {
			h.log.Error(err, "DeleteSession failed", "sessionID", sessionID)
		}
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetUserSessions lists a user's active sessions.
func (h *Handler) handleGetUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	sessions, err := h.service.GetUserSessions(r.Context(), userID)
	if err != nil {
		h.log.Error(err, "GetUserSessions failed", "userID", userID)
		writeError(w, err)
		return
	}

	writeJSON(w, UserSessionsResponse{
		UserID:   userID,
		Sessions: sessions,
	})
}

// decodeBody decodes a size-limited JSON request body.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return ErrMissingBody
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return ErrMissingBody
	}
	return nil
}

// isClientError reports whether err maps to a 4xx status; those are not
// worth an error-level log line.
func isClientError(err error) bool {
	return errors.Is(err, session.ErrSessionNotFound) ||
		errors.Is(err, session.ErrSessionExpired) ||
		errors.Is(err, session.ErrSessionInactive) ||
		errors.Is(err, session.ErrStateNotFound) ||
		errors.Is(err, ErrMissingSessionID) ||
		errors.Is(err, ErrMissingPrompt) ||
		errors.Is(err, ErrMissingBody)
}

// writeJSON writes a JSON 200 OK response.
func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

// writeJSONStatus writes a JSON response with the given status code.
func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response is already partially written; nothing useful left to do.
		_ = err
	}
}

// writeError maps known errors to HTTP status codes and writes a JSON
// error response. This is the only place errors become status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
		msg = "session not found"
	case errors.Is(err, session.ErrSessionExpired):
		status = http.StatusNotFound
		msg = "session not found or expired"
	case errors.Is(err, session.ErrStateNotFound):
		status = http.StatusNotFound
		msg = "design state not found"
	case errors.Is(err, session.ErrSessionInactive):
		status = http.StatusConflict
		msg = "session is not active"
	case errors.Is(err, ErrMissingSessionID):
		status = http.StatusBadRequest
		msg = ErrMissingSessionID.Error()
	case errors.Is(err, ErrMissingPrompt):
		status = http.StatusBadRequest
		msg = ErrMissingPrompt.Error()
	case errors.Is(err, ErrMissingBody):
		status = http.StatusBadRequest
		msg = "request body must be valid JSON"
	case errors.Is(err, ErrGeneration):
		status = http.StatusInternalServerError
		msg = "wireframe generation failed"
	}

	writeErrorStatus(w, status, msg)
}

// writeErrorStatus writes a JSON error response with an explicit status.
func writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Detail: msg})
}
