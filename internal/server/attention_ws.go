package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/workspace/orb-agent/internal/auth"
	"github.com/workspace/orb-agent/internal/positioning"
	"github.com/workspace/orb-agent/internal/session"
)

func authIsAllowedFor(claims *auth.Claims, userID string) bool {
	return auth.IsOperator(claims) || auth.UserID(claims) == userID
}

// createUpgrader creates a WebSocket upgrader with origin validation.
// WebSocket upgrades bypass CORS, so origins are validated explicitly.
func (s *Server) createUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  s.config.WSReadBufferSize,
		WriteBufferSize: s.config.WSWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// No origin header - likely same-origin or non-browser client
				return true
			}
			return s.isOriginAllowed(origin)
		},
	}
}

// isOriginAllowed checks if the given origin is in the allowed list.
// Supports wildcard patterns like "https://*.example.com".
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" {
			// Wildcard allows all - only for development
			return true
		}
		if allowed == origin {
			return true
		}
		if strings.Contains(allowed, "*") && matchWildcardOrigin(origin, allowed) {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", s.config.AllowedOrigins)
	return false
}

// matchWildcardOrigin checks if origin matches a wildcard pattern.
// Pattern format: "https://*.example.com" matches "https://foo.example.com"
func matchWildcardOrigin(origin, pattern string) bool {
	parts := strings.SplitN(pattern, "*", 2)
	if len(parts) != 2 {
		return false
	}
	prefix := parts[0]
	suffix := parts[1]

	if !strings.HasPrefix(origin, prefix) {
		return false
	}
	if !strings.HasSuffix(origin, suffix) {
		return false
	}

	// The middle part (subdomain) must not contain "/"
	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return !strings.Contains(middle, "/")
}

// Attention stream message types.
type attentionMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type cursorData struct {
	Cursor positioning.Point `json:"cursor"`
	Orb    positioning.Rect  `json:"orb"`
}

type adjustData struct {
	Delta positioning.Delta `json:"delta"`
}

// handleAttentionWS streams cursor positions from the client and answers
// each with the repulsion delta that keeps the orb out of the pointer's
// way. Dismiss messages end the user's session through the same path as
// the REST dismiss endpoint.
func (s *Server) handleAttentionWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		claims, err := s.claimsFromRequest(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !authIsAllowedFor(claims, userID) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	upgrader := s.createUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "userId", userID, "error", err)
		return
	}
	defer conn.Close()

	threshold := s.config.AttentionThreshold
	if threshold <= 0 {
		threshold = positioning.DefaultAttentionThreshold
	}

	for {
		var msg attentionMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Attention stream closed unexpectedly", "userId", userID, "error", err)
			}
			return
		}

		switch msg.Type {
		case "cursor":
			var data cursorData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				continue
			}
			delta := positioning.Adjust(data.Orb, data.Cursor, threshold)
			if err := conn.WriteJSON(map[string]any{
				"type": "adjust",
				"data": adjustData{Delta: delta},
			}); err != nil {
				return
			}

		case "dismiss":
			s.registry.HandleDismiss(session.DismissSignal{
				UserID:      userID,
				DismissedAt: time.Now().UTC(),
			})
			_ = conn.WriteJSON(map[string]any{"type": "dismissed"})
			return

		case "activity":
			s.registry.Touch(userID)

		default:
			// Unknown message types are ignored so older clients keep working.
		}
	}
}
