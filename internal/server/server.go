// Package server provides the HTTP and WebSocket surface of the orb agent.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/workspace/orb-agent/internal/audit"
	"github.com/workspace/orb-agent/internal/auth"
	"github.com/workspace/orb-agent/internal/config"
	"github.com/workspace/orb-agent/internal/handoff"
	"github.com/workspace/orb-agent/internal/permission"
	"github.com/workspace/orb-agent/internal/session"
)

// Deps carries the subsystems the server routes requests into. They are
// constructed and wired in main so that lifecycle hooks (session end,
// archival) are in one place.
type Deps struct {
	Registry *session.Registry
	Bridge   *handoff.Bridge
	Grants   *permission.Manager
	Audit    *audit.Log
	// Validator is nil when token auth is disabled (no JWKS endpoint
	// configured); all requests are then treated as trusted.
	Validator *auth.Validator
}

// Server is the HTTP server for the orb agent.
type Server struct {
	config     *config.Config
	httpServer *http.Server

	registry  *session.Registry
	bridge    *handoff.Bridge
	grants    *permission.Manager
	audit     *audit.Log
	validator *auth.Validator
}

// New creates a new server instance.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		config:    cfg,
		registry:  deps.Registry,
		bridge:    deps.Bridge,
		grants:    deps.Grants,
		audit:     deps.Audit,
		validator: deps.Validator,
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	// WriteTimeout is intentionally zero: the attention WebSocket is
	// long-lived, and http.Server.WriteTimeout arms a deadline on the
	// underlying net.Conn before the handler runs, which would kill
	// hijacked connections after the timeout period.
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     corsMiddleware(mux, cfg.AllowedOrigins),
		ReadTimeout: cfg.HTTPReadTimeout,
		IdleTimeout: cfg.HTTPIdleTimeout,
	}

	return s
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	slog.Info("Starting orb agent", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server. Session teardown is driven by
// the caller through the registry so that end hooks fire exactly once.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Health check (unauthenticated)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Conversation input and escalation
	mux.HandleFunc("POST /api/input", s.requireAuth(s.handleInput))

	// Elevated session lifecycle
	mux.HandleFunc("POST /api/sessions", s.requireAuth(s.handleCreateSession))
	mux.HandleFunc("GET /api/sessions/{userId}", s.requireAuth(s.handleGetSession))
	mux.HandleFunc("DELETE /api/sessions/{userId}", s.requireAuth(s.handleEndSession))

	// Permission grants
	mux.HandleFunc("POST /api/sessions/{userId}/grants", s.requireAuth(s.handleRequestGrant))

	// Surface signals
	mux.HandleFunc("POST /api/dismiss", s.requireAuth(s.handleDismiss))
	mux.HandleFunc("POST /api/chat-mode", s.requireAuth(s.handleChatMode))

	// Audit replay (operator only when auth is enabled)
	mux.HandleFunc("GET /api/audit/{userId}", s.requireAuth(s.handleAuditReplay))

	// Attention cursor stream
	mux.HandleFunc("GET /ws/attention", s.handleAttentionWS)
}

// requireAuth wraps a handler with bearer-token validation. When no
// validator is configured the handler runs unauthenticated.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.validator == nil {
			next(w, r)
			return
		}

		claims, err := s.claimsFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	}
}

// claimsFromRequest extracts and validates the bearer token. WebSocket
// clients may pass the token as a query parameter since browsers cannot
// set headers on WebSocket upgrades.
func (s *Server) claimsFromRequest(r *http.Request) (*auth.Claims, error) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("token"); q != "" {
		token = q
	}
	if token == "" {
		return nil, fmt.Errorf("missing bearer token")
	}
	return s.validator.Validate(token)
}

// authorizeUser checks that the request may act on behalf of userID.
// Operator tokens may act for any user. Returns false after writing the
// error response.
func (s *Server) authorizeUser(w http.ResponseWriter, r *http.Request, userID string) bool {
	if s.validator == nil {
		return true
	}
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return false
	}
	if auth.IsOperator(claims) || auth.UserID(claims) == userID {
		return true
	}
	writeError(w, http.StatusForbidden, "not authorized for user")
	return false
}

// corsMiddleware adds CORS headers to responses.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := false

		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
			if strings.Contains(o, "*.") && matchWildcardOrigin(origin, o) {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
