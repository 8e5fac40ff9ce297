// Package notes is the fallback work surface: when legality cannot be
// granted, the operator keeps writing notes instead of opening blocks. Notes
// share the registry's SQLite handle.
package notes

// #region imports
import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// #endregion

// #region types

// Note is one recorded notes-only entry.
type Note struct {
	ID        int
	SessionID string
	Text      string
	CreatedAt time.Time
}

// #endregion types

// #region store

// Store persists notes in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates the notes table if needed and returns a store.
func NewStore(db *sql.DB) (*Store, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("create notes table: %w", err)
	}
	return &Store{db: db}, nil
}

// Add stores one note. Empty text is rejected; whitespace is trimmed.
func (s *Store) Add(sessionID, text string, at time.Time) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("empty note")
	}
	_, err := s.db.Exec(
		`INSERT INTO notes (session_id, text, created_at) VALUES (?, ?, ?)`,
		sessionID, trimmed, at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// List returns all notes of one session in recording order.
func (s *Store) List(sessionID string) ([]Note, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, text, created_at FROM notes WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		var ts string
		if err := rows.Scan(&n.ID, &n.SessionID, &n.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.CreatedAt, _ = time.Parse(time.RFC3339, ts)
		out = append(out, n)
	}
	return out, rows.Err()
}

// Count returns the number of notes in one session.
func (s *Store) Count(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM notes WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}

// #endregion store
