package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS instances (
	handle     TEXT PRIMARY KEY,
	identity   TEXT NOT NULL,
	state      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// sqliteStore keeps one row per handle; Put is an upsert replacing both
// documents, preserving whole-record semantics.
type sqliteStore struct {
	db *sql.DB
}

func openSQLite(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	// Single process, single pass: one connection is all sqlite wants.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate sqlite %s: %w", path, err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(handle string) (Record, bool, error) {
	if err := checkHandle(handle); err != nil {
		return Record{}, false, err
	}

	var identity, state string
	err := s.db.QueryRow(
		`SELECT identity, state FROM instances WHERE handle = ?`, handle,
	).Scan(&identity, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("store: get %s: %w", handle, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(identity), &rec.Identity); err != nil {
		return Record{}, false, fmt.Errorf("store: parse identity for %s: %w", handle, err)
	}
	// Corrupt state degrades to the zero state; the due selector fails open.
	_ = json.Unmarshal([]byte(state), &rec.State)
	return rec, true, nil
}

func (s *sqliteStore) Put(handle string, rec Record) error {
	if err := checkHandle(handle); err != nil {
		return err
	}
	identity, err := json.Marshal(rec.Identity)
	if err != nil {
		return fmt.Errorf("store: encode identity for %s: %w", handle, err)
	}
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("store: encode state for %s: %w", handle, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO instances(handle, identity, state, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(handle) DO UPDATE SET
		   identity = excluded.identity,
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		handle, string(identity), string(state), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: put %s: %w", handle, err)
	}
	return nil
}

func (s *sqliteStore) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT handle FROM instances ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var handles []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		handles = append(handles, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return handles, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
