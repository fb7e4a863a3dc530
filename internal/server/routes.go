package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/workspace/orb-agent/internal/evaluator"
	"github.com/workspace/orb-agent/internal/handoff"
	"github.com/workspace/orb-agent/internal/session"
)

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"activeSessions": s.registry.ActiveCount(),
	})
}

// handleInput runs one user utterance through the handoff pipeline and
// returns the escalation result.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID  string          `json:"userId"`
		Input   string          `json:"input"`
		Signals handoff.Signals `json:"signals"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if body.Input == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}
	if !s.authorizeUser(w, r, body.UserID) {
		return
	}

	// Input during an elevated session counts as activity.
	s.registry.Touch(body.UserID)

	result := s.bridge.ProcessInput(r.Context(), body.UserID, body.Input, body.Signals)
	writeJSON(w, http.StatusOK, result)
}

// handleCreateSession starts an elevated session once the presentation
// layer follows through on a handoff payload.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID   string             `json:"userId"`
		Decision evaluator.Decision `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if !s.authorizeUser(w, r, body.UserID) {
		return
	}

	sess, err := s.registry.Create(body.UserID, body.Decision)
	if err != nil {
		if errors.Is(err, session.ErrDuplicateSession) {
			writeError(w, http.StatusConflict, "active session already exists for user")
			return
		}
		slog.Error("Failed to create session", "userId", body.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

// handleGetSession returns the user's active session, if any.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if !s.authorizeUser(w, r, userID) {
		return
	}

	sess, ok := s.registry.Find(userID)
	if !ok {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleEndSession ends the user's active session. Ending a non-existent
// session is a no-op, not an error: dismissal signals can race the
// session's own teardown.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if !s.authorizeUser(w, r, userID) {
		return
	}

	resolution := session.Resolution(r.URL.Query().Get("resolution"))
	switch resolution {
	case "":
		resolution = session.ResolutionResolved
	case session.ResolutionDismissed, session.ResolutionResolved, session.ResolutionEscalatedToHuman:
	default:
		writeError(w, http.StatusBadRequest, "unknown resolution")
		return
	}

	_, ended := s.registry.End(userID, resolution)
	writeJSON(w, http.StatusOK, map[string]any{"ended": ended})
}

// handleRequestGrant requests a permission grant for the user's active
// session. Denial and unavailability are reported as typed outcomes with
// a 200 status; only a missing session is an error.
func (s *Server) handleRequestGrant(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if !s.authorizeUser(w, r, userID) {
		return
	}

	var body struct {
		Scope     session.Scope `json:"scope"`
		Consented bool          `json:"consented"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch body.Scope {
	case session.ScopeScreenShare, session.ScopeFileAccess:
	default:
		writeError(w, http.StatusBadRequest, "unknown scope")
		return
	}

	if _, ok := s.registry.Find(userID); !ok {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}

	result := s.grants.RequestGrant(r.Context(), userID, body.Scope, body.Consented)
	writeJSON(w, http.StatusOK, result)
}

// handleDismiss processes an orb dismissal signal.
func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID      string    `json:"userId"`
		DismissedAt time.Time `json:"dismissedAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if !s.authorizeUser(w, r, body.UserID) {
		return
	}

	if body.DismissedAt.IsZero() {
		body.DismissedAt = time.Now().UTC()
	}
	s.registry.HandleDismiss(session.DismissSignal{
		UserID:      body.UserID,
		DismissedAt: body.DismissedAt,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleChatMode records that the user switched the elevated surface into
// chat mode. The session stays active.
func (s *Server) handleChatMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if !s.authorizeUser(w, r, body.UserID) {
		return
	}

	s.registry.HandleChatModeStarted(session.ChatModeStarted{UserID: body.UserID})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAuditReplay returns the full audit trail for a user in recorded
// order. Operator tokens only when auth is enabled.
func (s *Server) handleAuditReplay(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if !s.authorizeUser(w, r, userID) {
		return
	}

	events, err := s.audit.Replay(userID)
	if err != nil {
		slog.Error("Audit replay failed", "userId", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read audit trail")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
