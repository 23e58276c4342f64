package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps snapshots in a local sqlite file so sessions survive a
// process restart.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	session_id TEXT PRIMARY KEY,
	code       TEXT NOT NULL,
	version    INTEGER NOT NULL,
	state      BLOB NOT NULL,
	saved_at   TIMESTAMP NOT NULL
);`

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSnapshot(snap Snapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO snapshots (session_id, code, version, state, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			code = excluded.code,
			version = excluded.version,
			state = excluded.state,
			saved_at = excluded.saved_at`,
		snap.SessionID, snap.Code, snap.Version, []byte(snap.State), snap.SavedAt)
	return err
}

func (s *SQLiteStore) GetSnapshot(sessionID string) (Snapshot, bool, error) {
	row := s.db.QueryRow(`
		SELECT session_id, code, version, state, saved_at
		FROM snapshots WHERE session_id = ?`, sessionID)
	var snap Snapshot
	var state []byte
	err := row.Scan(&snap.SessionID, &snap.Code, &snap.Version, &state, &snap.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	snap.State = state
	return snap, true, nil
}

func (s *SQLiteStore) DeleteSnapshot(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM snapshots WHERE session_id = ?`, sessionID)
	return err
}
