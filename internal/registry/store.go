// Package registry keeps the cross-session SQLite index: session plant
// state, block contracts, end pointers, and the latest-pointer row the next
// preflight clamps against. Everything here is derived data; Rebuild can
// reconstruct it from the persisted artifacts.
package registry

// #region imports
import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fatb4f/neuroctrl/internal/state"
)

// #endregion

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id   TEXT PRIMARY KEY,
	snapshot_id  TEXT NOT NULL,
	mode         TEXT NOT NULL,
	band         TEXT NOT NULL,
	phase        TEXT NOT NULL,
	start_mode   TEXT NOT NULL,
	reset_count  INTEGER NOT NULL DEFAULT 0,
	started_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS blocks (
	block_id            TEXT PRIMARY KEY,
	session_id          TEXT NOT NULL,
	work_pattern        TEXT NOT NULL,
	mode_at_start       TEXT NOT NULL,
	state               TEXT NOT NULL,
	day                 TEXT NOT NULL,
	boundary_violations INTEGER NOT NULL DEFAULT 0,
	defined_at          TEXT NOT NULL,
	closed_at           TEXT,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS end_pointers (
	block_id              TEXT PRIMARY KEY,
	mode_at_end           TEXT NOT NULL,
	band_at_end           TEXT NOT NULL,
	recommended_next_mode TEXT NOT NULL,
	created_at            TEXT NOT NULL,
	FOREIGN KEY (block_id) REFERENCES blocks(block_id)
);

CREATE TABLE IF NOT EXISTS latest_pointer (
	id       INTEGER PRIMARY KEY CHECK (id = 1),
	block_id TEXT NOT NULL,
	FOREIGN KEY (block_id) REFERENCES end_pointers(block_id)
);
`

// #endregion schema

// #region store-struct

// Store manages the cross-session index in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// Open opens the registry database and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for stores that share the handle
// (e.g. notes).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region sessions

// BeginSession records a freshly preflighted session.
func (s *Store) BeginSession(st state.PlantState, snapshotID string) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	now := st.UpdatedAt.UTC().Format(time.RFC3339)
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, snapshot_id, mode, band, phase, start_mode, reset_count, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.SessionID, snapshotID, string(st.Mode), string(st.Band), string(st.Phase),
		string(st.StartMode), st.ResetCount, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SaveSession persists the plant state after a tick or reset transition.
func (s *Store) SaveSession(st state.PlantState) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE sessions SET mode = ?, band = ?, phase = ?, reset_count = ?, updated_at = ?
		 WHERE session_id = ?`,
		string(st.Mode), string(st.Band), string(st.Phase), st.ResetCount,
		st.UpdatedAt.UTC().Format(time.RFC3339), st.SessionID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return &ErrNoSession{SessionID: st.SessionID}
	}
	return nil
}

// LoadSession reads the plant state and snapshot id for one session.
func (s *Store) LoadSession(sessionID string) (state.PlantState, string, error) {
	var st state.PlantState
	var snapshotID, startedAt, updatedAt string
	err := s.db.QueryRow(
		`SELECT session_id, snapshot_id, mode, band, phase, start_mode, reset_count, started_at, updated_at
		 FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&st.SessionID, &snapshotID, &st.Mode, &st.Band, &st.Phase, &st.StartMode, &st.ResetCount, &startedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return state.PlantState{}, "", &ErrNoSession{SessionID: sessionID}
	}
	if err != nil {
		return state.PlantState{}, "", fmt.Errorf("load session %s: %w", sessionID, err)
	}
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if err := st.Validate(); err != nil {
		return state.PlantState{}, "", fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return st, snapshotID, nil
}

// CurrentSession returns the most recently started session id, or ErrNoSession
// when the registry is empty.
func (s *Store) CurrentSession() (string, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT session_id FROM sessions ORDER BY started_at DESC, session_id DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &ErrNoSession{}
	}
	if err != nil {
		return "", fmt.Errorf("current session: %w", err)
	}
	return id, nil
}

// #endregion sessions

// #region blocks

// InsertBlock records a freshly DEFINED block.
func (s *Store) InsertBlock(row BlockRow) error {
	_, err := s.db.Exec(
		`INSERT INTO blocks (block_id, session_id, work_pattern, mode_at_start, state, day, boundary_violations, defined_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.BlockID, row.SessionID, string(row.WorkPattern), string(row.ModeAtStart),
		string(row.State), row.Day, row.BoundaryViolations,
		row.DefinedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// GetBlock reads one block row; sql.ErrNoRows passes through for unknown ids.
func (s *Store) GetBlock(blockID string) (BlockRow, error) {
	var row BlockRow
	var definedAt string
	var closedAt sql.NullString
	err := s.db.QueryRow(
		`SELECT block_id, session_id, work_pattern, mode_at_start, state, day, boundary_violations, defined_at, closed_at
		 FROM blocks WHERE block_id = ?`, blockID,
	).Scan(&row.BlockID, &row.SessionID, &row.WorkPattern, &row.ModeAtStart, &row.State,
		&row.Day, &row.BoundaryViolations, &definedAt, &closedAt)
	if err != nil {
		return BlockRow{}, err
	}
	row.DefinedAt, _ = time.Parse(time.RFC3339, definedAt)
	if closedAt.Valid {
		t, _ := time.Parse(time.RFC3339, closedAt.String)
		row.ClosedAt = &t
	}
	return row, nil
}

// ActiveBlock returns the most recently defined block still DEFINED in the
// session, or nil when none is open.
func (s *Store) ActiveBlock(sessionID string) (*BlockRow, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT block_id FROM blocks WHERE session_id = ? AND state = ?
		 ORDER BY defined_at DESC, block_id DESC LIMIT 1`,
		sessionID, string(state.BlockDefined),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active block: %w", err)
	}
	row, err := s.GetBlock(id)
	if err != nil {
		return nil, fmt.Errorf("active block: %w", err)
	}
	return &row, nil
}

// DefinedBlocks lists all blocks currently DEFINED in one session, oldest
// first.
func (s *Store) DefinedBlocks(sessionID string) ([]BlockRow, error) {
	rows, err := s.db.Query(
		`SELECT block_id FROM blocks WHERE session_id = ? AND state = ?
		 ORDER BY defined_at ASC, block_id ASC`,
		sessionID, string(state.BlockDefined),
	)
	if err != nil {
		return nil, fmt.Errorf("defined blocks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan block id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]BlockRow, 0, len(ids))
	for _, id := range ids {
		row, err := s.GetBlock(id)
		if err != nil {
			return nil, fmt.Errorf("defined blocks: %w", err)
		}
		out = append(out, row)
	}
	return out, nil
}

// SessionBlocks lists every block of one session regardless of state, oldest
// first. Inspection tools use it; enforcement paths use DefinedBlocks.
func (s *Store) SessionBlocks(sessionID string) ([]BlockRow, error) {
	rows, err := s.db.Query(
		`SELECT block_id FROM blocks WHERE session_id = ?
		 ORDER BY defined_at ASC, block_id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("session blocks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan block id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]BlockRow, 0, len(ids))
	for _, id := range ids {
		row, err := s.GetBlock(id)
		if err != nil {
			return nil, fmt.Errorf("session blocks: %w", err)
		}
		out = append(out, row)
	}
	return out, nil
}

// CTXCountForDay counts CTX blocks that reached DEFINED or CLOSED on the
// given calendar day. The per-day exclusivity rule denies a second one.
func (s *Store) CTXCountForDay(day string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM blocks WHERE work_pattern = ? AND day = ? AND state IN (?, ?)`,
		string(state.PatternCTX), day, string(state.BlockDefined), string(state.BlockClosed),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ctx count: %w", err)
	}
	return n, nil
}

// AddBoundaryViolation tallies one advisory boundary breach against a block.
func (s *Store) AddBoundaryViolation(blockID string) error {
	_, err := s.db.Exec(
		`UPDATE blocks SET boundary_violations = boundary_violations + 1 WHERE block_id = ?`,
		blockID,
	)
	if err != nil {
		return fmt.Errorf("tally violation: %w", err)
	}
	return nil
}

// BoundaryViolations sums the advisory breach tally across a session.
func (s *Store) BoundaryViolations(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(boundary_violations), 0) FROM blocks WHERE session_id = ?`,
		sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sum violations: %w", err)
	}
	return n, nil
}

// #endregion blocks

// #region close

// CloseBlock marks a block CLOSED, records its end pointer, and advances the
// latest-pointer row, all in one transaction.
func (s *Store) CloseBlock(ptr state.EndPointer, closedAt time.Time) error {
	if err := ptr.Validate(); err != nil {
		return fmt.Errorf("close block: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE blocks SET state = ?, closed_at = ? WHERE block_id = ? AND state = ?`,
		string(state.BlockClosed), closedAt.UTC().Format(time.RFC3339),
		ptr.BlockID, string(state.BlockDefined),
	)
	if err != nil {
		return fmt.Errorf("mark closed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark closed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("close block: %s is not DEFINED", ptr.BlockID)
	}

	_, err = tx.Exec(
		`INSERT INTO end_pointers (block_id, mode_at_end, band_at_end, recommended_next_mode, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ptr.BlockID, string(ptr.ModeAtEnd), string(ptr.BandAtEnd),
		string(ptr.RecommendedNextMode), ptr.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert pointer: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO latest_pointer (id, block_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET block_id = excluded.block_id`,
		ptr.BlockID,
	)
	if err != nil {
		return fmt.Errorf("advance latest: %w", err)
	}

	return tx.Commit()
}

// #endregion close

// #region pointers

// LatestPointer reads the end pointer the next preflight must clamp against.
// Returns nil when no block has ever closed.
func (s *Store) LatestPointer() (*state.EndPointer, error) {
	var blockID string
	err := s.db.QueryRow(`SELECT block_id FROM latest_pointer WHERE id = 1`).Scan(&blockID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest pointer: %w", err)
	}
	return s.PointerFor(blockID)
}

// PointerFor reads the end pointer of one closed block.
func (s *Store) PointerFor(blockID string) (*state.EndPointer, error) {
	var ptr state.EndPointer
	var createdAt string
	err := s.db.QueryRow(
		`SELECT block_id, mode_at_end, band_at_end, recommended_next_mode, created_at
		 FROM end_pointers WHERE block_id = ?`, blockID,
	).Scan(&ptr.BlockID, &ptr.ModeAtEnd, &ptr.BandAtEnd, &ptr.RecommendedNextMode, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("pointer for %s: %w", blockID, err)
	}
	ptr.Timestamp, _ = time.Parse(time.RFC3339, createdAt)
	return &ptr, nil
}

// HasClosedBlocks reports whether any block has ever closed. When true, a
// preflight without a readable prior pointer is an integrity error.
func (s *Store) HasClosedBlocks() (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM blocks WHERE state = ?`, string(state.BlockClosed),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count closed: %w", err)
	}
	return n > 0, nil
}

// #endregion pointers

// #region rebuild

// Rebuild wipes the derived block and pointer tables and refills them from
// persisted contracts and pointers. The ledger plus artifacts remain the
// source of truth; the registry is a queryable projection.
func (s *Store) Rebuild(blocks []BlockRow, pointers []state.EndPointer) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM latest_pointer`,
		`DELETE FROM end_pointers`,
		`DELETE FROM blocks`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("rebuild wipe: %w", err)
		}
	}

	for _, row := range blocks {
		var closedAt interface{}
		if row.ClosedAt != nil {
			closedAt = row.ClosedAt.UTC().Format(time.RFC3339)
		}
		_, err := tx.Exec(
			`INSERT INTO blocks (block_id, session_id, work_pattern, mode_at_start, state, day, boundary_violations, defined_at, closed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.BlockID, row.SessionID, string(row.WorkPattern), string(row.ModeAtStart),
			string(row.State), row.Day, row.BoundaryViolations,
			row.DefinedAt.UTC().Format(time.RFC3339), closedAt,
		)
		if err != nil {
			return fmt.Errorf("rebuild block %s: %w", row.BlockID, err)
		}
	}

	var latest *state.EndPointer
	for i, ptr := range pointers {
		if err := ptr.Validate(); err != nil {
			return fmt.Errorf("rebuild pointer: %w", err)
		}
		_, err := tx.Exec(
			`INSERT INTO end_pointers (block_id, mode_at_end, band_at_end, recommended_next_mode, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			ptr.BlockID, string(ptr.ModeAtEnd), string(ptr.BandAtEnd),
			string(ptr.RecommendedNextMode), ptr.Timestamp.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("rebuild pointer %s: %w", ptr.BlockID, err)
		}
		if latest == nil || ptr.Timestamp.After(latest.Timestamp) {
			latest = &pointers[i]
		}
	}
	if latest != nil {
		_, err := tx.Exec(`INSERT INTO latest_pointer (id, block_id) VALUES (1, ?)`, latest.BlockID)
		if err != nil {
			return fmt.Errorf("rebuild latest: %w", err)
		}
	}

	return tx.Commit()
}

// #endregion rebuild
