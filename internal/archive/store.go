// Package archive provides SQLite-backed retention of ended sessions and
// their grants, so compliance review can query session history long after
// the in-memory registry has forgotten it.
package archive

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/workspace/orb-agent/internal/session"
)

// SessionRecord is an archived session row.
type SessionRecord struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	Reason     string `json:"reason"`
	Priority   string `json:"priority"`
	StartedAt  string `json:"startedAt"` // RFC 3339
	EndedAt    string `json:"endedAt"`
	Resolution string `json:"resolution"`
}

// GrantRecord is an archived grant row.
type GrantRecord struct {
	SessionID   string `json:"sessionId"`
	Scope       string `json:"scope"`
	GrantedAt   string `json:"grantedAt"`
	ResourceRef string `json:"resourceRef"`
}

// Store persists ended sessions to SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens the archive database at the given path.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []func(*sql.DB) error{
		migrateV1,
	}

	for i := version; i < len(migrations); i++ {
		slog.Info("applying archive migration", "version", i+1)
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}
	return nil
}

// migrateV1 creates the sessions and grants tables.
func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			resolution TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		CREATE TABLE IF NOT EXISTS grants (
			session_id TEXT NOT NULL,
			scope TEXT NOT NULL,
			granted_at TEXT NOT NULL,
			resource_ref TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_grants_session ON grants(session_id);
	`)
	return err
}

// ArchiveSession stores a final session snapshot with its grants. Intended
// as a registry end hook:
//
//	registry.OnEnd(store.ArchiveSession)
func (s *Store) ArchiveSession(sess session.Session, resolution session.Resolution) {
	if err := s.archive(sess, resolution); err != nil {
		// Archival is best effort and must not disturb teardown.
		slog.Error("archive session failed", "sessionId", sess.ID, "error", err)
	}
}

func (s *Store) archive(sess session.Session, resolution session.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	endedAt := ""
	if sess.EndedAt != nil {
		endedAt = sess.EndedAt.Format(time.RFC3339)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO sessions (id, user_id, reason, priority, started_at, ended_at, resolution)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Decision.Reason, string(sess.Decision.Priority),
		sess.StartedAt.Format(time.RFC3339), endedAt, string(resolution),
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM grants WHERE session_id = ?", sess.ID); err != nil {
		return fmt.Errorf("clear grants: %w", err)
	}
	for _, g := range sess.Grants {
		if _, err := tx.Exec(
			"INSERT INTO grants (session_id, scope, granted_at, resource_ref) VALUES (?, ?, ?, ?)",
			g.SessionID, string(g.Scope), g.GrantedAt.Format(time.RFC3339), g.ResourceRef,
		); err != nil {
			return fmt.Errorf("insert grant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

// SessionsByUser returns a user's archived sessions, oldest first.
func (s *Store) SessionsByUser(userID string) ([]SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, user_id, reason, priority, started_at, ended_at, resolution FROM sessions WHERE user_id = ? ORDER BY started_at ASC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Reason, &rec.Priority, &rec.StartedAt, &rec.EndedAt, &rec.Resolution); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	if records == nil {
		records = []SessionRecord{}
	}
	return records, nil
}

// GrantsBySession returns the grants archived for a session, oldest first.
func (s *Store) GrantsBySession(sessionID string) ([]GrantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT session_id, scope, granted_at, resource_ref FROM grants WHERE session_id = ? ORDER BY granted_at ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var records []GrantRecord
	for rows.Next() {
		var rec GrantRecord
		if err := rows.Scan(&rec.SessionID, &rec.Scope, &rec.GrantedAt, &rec.ResourceRef); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}

	if records == nil {
		records = []GrantRecord{}
	}
	return records, nil
}

// SessionCount reports the number of archived sessions for a user.
func (s *Store) SessionCount(userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sessions WHERE user_id = ?", userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}
