// Package permission mediates scoped resource grants for elevated
// sessions: explicit per-scope consent, typed denial/unavailable outcomes,
// and guaranteed release of every acquired handle when the owning session
// ends, on every exit path.
package permission

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/workspace/orb-agent/internal/session"
)

// ErrUnavailable marks a resource that cannot be acquired right now (no
// capture source, filesystem error). Providers return it wrapped; callers
// see an unavailable outcome, never an exception.
var ErrUnavailable = errors.New("resource unavailable")

// Outcome classifies a grant request result.
type Outcome string

const (
	OutcomeGranted     Outcome = "granted"
	OutcomeDenied      Outcome = "denied"
	OutcomeUnavailable Outcome = "unavailable"
)

// GrantResult is the typed result of a grant request. Denial and
// unavailability are expected outcomes: callers offer a chat-only
// continuation rather than aborting the session.
type GrantResult struct {
	Outcome     Outcome       `json:"outcome"`
	Scope       session.Scope `json:"scope"`
	ResourceRef string        `json:"resourceRef,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// ResourceProvider acquires and releases handles for one scope.
type ResourceProvider interface {
	// Acquire obtains a resource for the user and returns an opaque
	// reference. Wrap ErrUnavailable when the resource cannot be provided.
	Acquire(ctx context.Context, userID string) (string, error)
	// Release frees a previously acquired reference. Must be safe to call
	// for references the provider no longer tracks.
	Release(ref string) error
}

// FaultSink receives release failures, which never propagate to callers.
type FaultSink interface {
	ReportError(err error, source, userID string, ctx map[string]any)
}

type heldHandle struct {
	scope    session.Scope
	ref      string
	provider ResourceProvider
}

// Manager tracks granted scopes per session and owns the acquired handles.
// It never creates sessions; it appends grants to sessions the registry
// owns. Wire releases into the registry with:
//
//	registry.OnEnd(manager.ReleaseSession)
type Manager struct {
	registry  *session.Registry
	audit     session.AuditRecorder
	faults    FaultSink
	providers map[session.Scope]ResourceProvider

	mu       sync.Mutex
	inFlight map[string]*sync.Mutex  // per-session request serialization
	handles  map[string][]heldHandle // sessionID -> live handles
	now      func() time.Time
}

// NewManager creates a Manager. Audit and faults may be nil.
func NewManager(registry *session.Registry, audit session.AuditRecorder, faults FaultSink) *Manager {
	return &Manager{
		registry:  registry,
		audit:     audit,
		faults:    faults,
		providers: make(map[session.Scope]ResourceProvider),
		inFlight:  make(map[string]*sync.Mutex),
		handles:   make(map[string][]heldHandle),
		now:       time.Now,
	}
}

// RegisterProvider binds a provider to a scope. Call during wiring, before
// requests flow.
func (m *Manager) RegisterProvider(scope session.Scope, p ResourceProvider) {
	m.providers[scope] = p
}

// RequestGrant requests one scope for the user's active session. Consent is
// an explicit, scope-specific signal from the user; bundled consent across
// scopes is not accepted, which is why exactly one scope is requested per
// call. Requests for the same session are serialized: a second scope
// request waits until the first resolves.
func (m *Manager) RequestGrant(ctx context.Context, userID string, scope session.Scope, consented bool) GrantResult {
	sess, ok := m.registry.Find(userID)
	if !ok {
		return GrantResult{Outcome: OutcomeUnavailable, Scope: scope, Message: "no active session"}
	}

	gate := m.sessionGate(sess.ID)
	gate.Lock()
	defer gate.Unlock()

	if !consented {
		m.record(userID, "permission_denied", map[string]any{
			"sessionId": sess.ID,
			"scope":     string(scope),
		})
		return GrantResult{Outcome: OutcomeDenied, Scope: scope, Message: "user declined " + string(scope)}
	}

	provider, ok := m.providers[scope]
	if !ok {
		return GrantResult{Outcome: OutcomeUnavailable, Scope: scope, Message: "no provider for scope " + string(scope)}
	}

	ref, err := provider.Acquire(ctx, userID)
	if err != nil {
		m.record(userID, "permission_unavailable", map[string]any{
			"sessionId": sess.ID,
			"scope":     string(scope),
			"error":     err.Error(),
		})
		return GrantResult{Outcome: OutcomeUnavailable, Scope: scope, Message: err.Error()}
	}

	grant := session.Grant{
		SessionID:   sess.ID,
		Scope:       scope,
		GrantedAt:   m.now().UTC(),
		ResourceRef: ref,
	}

	// The session may have ended while the acquisition was in flight.
	// AppendGrant re-checks against the live registry state; on failure the
	// resource is released immediately so nothing is orphaned.
	if err := m.registry.AppendGrant(userID, grant); err != nil {
		m.releaseRef(provider, ref, userID, scope)
		m.record(userID, "grant_discarded", map[string]any{
			"sessionId": sess.ID,
			"scope":     string(scope),
		})
		return GrantResult{Outcome: OutcomeUnavailable, Scope: scope, Message: "session ended before grant completed"}
	}

	m.mu.Lock()
	m.handles[sess.ID] = append(m.handles[sess.ID], heldHandle{scope: scope, ref: ref, provider: provider})
	m.mu.Unlock()

	// Close the window between the grant landing and the handle being
	// registered: if the session ended in that gap, the end hook may have
	// run before the handle existed, so release it here.
	if cur, ok := m.registry.Find(userID); !ok || cur.ID != sess.ID {
		m.ReleaseSession(sess, session.ResolutionDismissed)
		return GrantResult{Outcome: OutcomeUnavailable, Scope: scope, Message: "session ended before grant completed"}
	}

	m.record(userID, "permission_granted", map[string]any{
		"sessionId":   sess.ID,
		"scope":       string(scope),
		"resourceRef": ref,
	})
	return GrantResult{Outcome: OutcomeGranted, Scope: scope, ResourceRef: ref}
}

// Revoke releases the handles held for one scope of the user's active
// session. The grant record stays on the audit trail; only the resource is
// freed.
func (m *Manager) Revoke(userID string, scope session.Scope) {
	sess, ok := m.registry.Find(userID)
	if !ok {
		return
	}

	m.mu.Lock()
	kept := m.handles[sess.ID][:0]
	var revoked []heldHandle
	for _, h := range m.handles[sess.ID] {
		if h.scope == scope {
			revoked = append(revoked, h)
		} else {
			kept = append(kept, h)
		}
	}
	m.handles[sess.ID] = kept
	m.mu.Unlock()

	for _, h := range revoked {
		m.releaseRef(h.provider, h.ref, userID, h.scope)
	}
	if len(revoked) > 0 {
		m.record(userID, "permission_revoked", map[string]any{
			"sessionId": sess.ID,
			"scope":     string(scope),
		})
	}
}

// ReleaseSession frees every handle held for an ended session. Registered
// as a registry end hook so it runs on every exit path: normal end,
// dismissal, sweep, shutdown. Each handle is released exactly once.
func (m *Manager) ReleaseSession(sess session.Session, _ session.Resolution) {
	m.mu.Lock()
	held := m.handles[sess.ID]
	delete(m.handles, sess.ID)
	delete(m.inFlight, sess.ID)
	m.mu.Unlock()

	for _, h := range held {
		m.releaseRef(h.provider, h.ref, sess.UserID, h.scope)
	}
	if len(held) > 0 {
		slog.Info("released session resources", "sessionId", sess.ID, "handles", len(held))
	}
}

// HeldHandleCount reports live handles for a session. Used by the sweeper
// and by health reporting.
func (m *Manager) HeldHandleCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles[sessionID])
}

func (m *Manager) sessionGate(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	gate, ok := m.inFlight[sessionID]
	if !ok {
		gate = &sync.Mutex{}
		m.inFlight[sessionID] = gate
	}
	return gate
}

func (m *Manager) releaseRef(p ResourceProvider, ref, userID string, scope session.Scope) {
	if err := p.Release(ref); err != nil {
		slog.Error("resource release failed", "scope", scope, "ref", ref, "error", err)
		if m.faults != nil {
			m.faults.ReportError(err, "permission", userID, map[string]any{
				"scope": string(scope),
				"ref":   ref,
			})
		}
	}
}

func (m *Manager) record(userID, eventType string, data map[string]any) {
	if m.audit != nil {
		m.audit.Record(userID, eventType, data)
	}
}
