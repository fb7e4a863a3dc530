package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/workspace/orb-agent/internal/evaluator"
	"github.com/workspace/orb-agent/internal/session"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func endedSession(id, userID string) session.Session {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ended := started.Add(5 * time.Minute)
	return session.Session{
		ID:     id,
		UserID: userID,
		Decision: evaluator.Decision{
			Escalate: true,
			Reason:   evaluator.ReasonFrustration,
			Priority: evaluator.PriorityHigh,
		},
		Grants: []session.Grant{
			{SessionID: id, Scope: session.ScopeScreenShare, GrantedAt: started.Add(time.Minute), ResourceRef: "screen:1"},
			{SessionID: id, Scope: session.ScopeFileAccess, GrantedAt: started.Add(2 * time.Minute), ResourceRef: "/data/u1"},
		},
		StartedAt:  started,
		EndedAt:    &ended,
		Status:     session.StatusEnded,
		Resolution: session.ResolutionResolved,
	}
}

func TestArchiveAndQuery(t *testing.T) {
	s := openStore(t)
	s.ArchiveSession(endedSession("s1", "u1"), session.ResolutionResolved)
	s.ArchiveSession(endedSession("s2", "u2"), session.ResolutionDismissed)

	records, err := s.SessionsByUser("u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 session for u1, got %d", len(records))
	}
	rec := records[0]
	if rec.ID != "s1" || rec.Reason != "frustration" || rec.Priority != "high" || rec.Resolution != "resolved" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	grants, err := s.GrantsBySession("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(grants))
	}
	if grants[0].Scope != "screenShare" || grants[1].Scope != "fileAccess" {
		t.Fatalf("grants out of order: %+v", grants)
	}
}

func TestArchiveIsIdempotent(t *testing.T) {
	s := openStore(t)
	sess := endedSession("s1", "u1")
	s.ArchiveSession(sess, session.ResolutionResolved)
	s.ArchiveSession(sess, session.ResolutionResolved)

	count, err := s.SessionCount("u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 archived session, got %d", count)
	}

	grants, err := s.GrantsBySession("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected grants not duplicated, got %d", len(grants))
	}
}

func TestQueriesOnEmptyStore(t *testing.T) {
	s := openStore(t)

	records, err := s.SessionsByUser("ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty result, got %d", len(records))
	}

	grants, err := s.GrantsBySession("ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grants) != 0 {
		t.Fatalf("expected empty result, got %d", len(grants))
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.ArchiveSession(endedSession("s1", "u1"), session.ResolutionEscalatedToHuman)
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	records, err := reopened.SessionsByUser("u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].Resolution != "escalatedToHuman" {
		t.Fatalf("expected persisted session, got %+v", records)
	}
}
