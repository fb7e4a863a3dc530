// Package session owns the lifecycle of elevated orb sessions: creation,
// lookup, and teardown, with at most one active session per user.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/workspace/orb-agent/internal/evaluator"
)

// ErrDuplicateSession is returned when a session is created for a user who
// already has an active one. This is a protocol violation by the caller,
// which must end the prior session first.
var ErrDuplicateSession = errors.New("active session already exists")

// ErrNoActiveSession is returned when a grant is appended for a user with
// no active session.
var ErrNoActiveSession = errors.New("no active session")

// Status is the lifecycle state of a session. There is no transition out of
// StatusEnded; a new session for the same user starts from scratch.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Resolution describes why a session ended.
type Resolution string

const (
	ResolutionDismissed        Resolution = "dismissed"
	ResolutionResolved         Resolution = "resolved"
	ResolutionEscalatedToHuman Resolution = "escalatedToHuman"
)

// Scope is a discrete category of elevated access.
type Scope string

const (
	ScopeScreenShare Scope = "screenShare"
	ScopeFileAccess  Scope = "fileAccess"
)

// Grant is a recorded authorization of one scope for one session. Grants
// are append-only: added, never mutated.
type Grant struct {
	SessionID   string    `json:"sessionId"`
	Scope       Scope     `json:"scope"`
	GrantedAt   time.Time `json:"grantedAt"`
	ResourceRef string    `json:"resourceRef"`
}

// Session is an elevated interaction context scoped to one user.
type Session struct {
	ID              string             `json:"id"`
	UserID          string             `json:"userId"`
	Decision        evaluator.Decision `json:"decision"`
	Grants          []Grant            `json:"grants"`
	ScreenSourceRef string             `json:"screenSourceRef,omitempty"`
	StartedAt       time.Time          `json:"startedAt"`
	LastActivityAt  time.Time          `json:"lastActivityAt"`
	EndedAt         *time.Time         `json:"endedAt,omitempty"`
	Status          Status             `json:"status"`
	Resolution      Resolution         `json:"resolution,omitempty"`
}

// GrantedScopes returns the distinct scopes granted to the session.
func (s Session) GrantedScopes() []Scope {
	seen := make(map[Scope]bool, len(s.Grants))
	var scopes []Scope
	for _, g := range s.Grants {
		if !seen[g.Scope] {
			seen[g.Scope] = true
			scopes = append(scopes, g.Scope)
		}
	}
	return scopes
}

// AuditRecorder receives lifecycle events. Implementations must never fail
// the caller.
type AuditRecorder interface {
	Record(userID, eventType string, data map[string]any)
}

// EndHook is notified after a session transitions to ended. The session
// passed in is the final snapshot, grants included.
type EndHook func(Session, Resolution)

// Registry is the process-wide map of active sessions keyed by user id. It
// is constructed explicitly and injected wherever session state is needed;
// there is no package-level instance.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
	audit    AuditRecorder
	endHooks []EndHook
	now      func() time.Time
}

// NewRegistry creates an empty registry. The audit recorder may be nil.
func NewRegistry(audit AuditRecorder) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		audit:    audit,
		now:      time.Now,
	}
}

// OnEnd registers a hook invoked after every session end, on every exit
// path. Hooks must be registered before the registry is in use.
func (r *Registry) OnEnd(hook EndHook) {
	r.endHooks = append(r.endHooks, hook)
}

// Create starts an elevated session for a user. Returns ErrDuplicateSession
// if the user already has an active one.
func (r *Registry) Create(userID string, decision evaluator.Decision) (Session, error) {
	if userID == "" {
		return Session{}, fmt.Errorf("user ID is required")
	}

	r.mu.Lock()
	if _, exists := r.sessions[userID]; exists {
		r.mu.Unlock()
		return Session{}, fmt.Errorf("%w for user %s", ErrDuplicateSession, userID)
	}

	now := r.now().UTC()
	sess := Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		Decision:       decision,
		StartedAt:      now,
		LastActivityAt: now,
		Status:         StatusActive,
	}
	r.sessions[userID] = sess
	r.mu.Unlock()

	r.record(userID, "session_started", map[string]any{
		"sessionId": sess.ID,
		"reason":    decision.Reason,
		"priority":  string(decision.Priority),
	})
	return sess, nil
}

// Find returns the active session for a user, if any.
func (r *Registry) Find(userID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[userID]
	return sess, ok
}

// End tears down the active session for a user. Ending a user with no
// active session is a no-op: dismissal can race with resolution, and the
// loser of that race must not blow up. Returns the final session snapshot
// and whether a session was actually ended.
func (r *Registry) End(userID string, resolution Resolution) (Session, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	if !ok {
		r.mu.Unlock()
		return Session{}, false
	}

	now := r.now().UTC()
	sess.Status = StatusEnded
	sess.Resolution = resolution
	sess.EndedAt = &now
	// The entry is removed, not kept as ended: a later Create for the same
	// user starts from a clean slate.
	delete(r.sessions, userID)
	r.mu.Unlock()

	r.record(userID, "session_ended", map[string]any{
		"sessionId":  sess.ID,
		"resolution": string(resolution),
		"durationMs": now.Sub(sess.StartedAt).Milliseconds(),
	})

	for _, hook := range r.endHooks {
		hook(sess, resolution)
	}
	return sess, true
}

// AppendGrant adds a grant to the user's active session. Fails if there is
// no active session or the grant targets a different (stale) session, so a
// grant resolved after dismissal can never attach to anything.
func (r *Registry) AppendGrant(userID string, grant Grant) error {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	if !ok || sess.ID != grant.SessionID {
		r.mu.Unlock()
		return fmt.Errorf("%w for user %s", ErrNoActiveSession, userID)
	}

	sess.Grants = append(sess.Grants, grant)
	if grant.Scope == ScopeScreenShare {
		sess.ScreenSourceRef = grant.ResourceRef
	}
	sess.LastActivityAt = r.now().UTC()
	r.sessions[userID] = sess
	r.mu.Unlock()
	return nil
}

// Touch refreshes the activity timestamp of a user's active session.
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[userID]; ok {
		sess.LastActivityAt = r.now().UTC()
		r.sessions[userID] = sess
	}
}

// Active returns snapshots of all active sessions.
func (r *Registry) Active() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

// ActiveCount reports the number of active sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close ends every active session with the given resolution. Called at
// subsystem shutdown so resource handles are released before exit.
func (r *Registry) Close(resolution Resolution) {
	for _, sess := range r.Active() {
		r.End(sess.UserID, resolution)
	}
}

func (r *Registry) record(userID, eventType string, data map[string]any) {
	if r.audit != nil {
		r.audit.Record(userID, eventType, data)
	}
}
