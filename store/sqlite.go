package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"wc-rpc/session"
)

// SQLite persists sequences in a single table, one JSON document per
// topic.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer keeps busy errors away from concurrent SetSession calls
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db, path: path}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) init(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS sessions (
			topic TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Session(ctx context.Context, topic string) (session.Sequence, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE topic = ?;`, topic).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Sequence{}, false, nil
	}
	if err != nil {
		return session.Sequence{}, false, err
	}
	var seq session.Sequence
	if err := json.Unmarshal([]byte(data), &seq); err != nil {
		return session.Sequence{}, false, fmt.Errorf("decode session %q: %w", topic, err)
	}
	return seq, true, nil
}

func (s *SQLite) SetSession(ctx context.Context, seq session.Sequence) error {
	data, err := json.Marshal(seq)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions(topic, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(topic) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at;
	`, seq.Topic, string(data), time.Now().UnixMilli())
	return err
}

func (s *SQLite) DeleteSession(ctx context.Context, topic string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE topic = ?;`, topic)
	return err
}

func (s *SQLite) Sessions(ctx context.Context) ([]session.Sequence, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT topic, data FROM sessions ORDER BY topic;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Sequence
	for rows.Next() {
		var topic, data string
		if err := rows.Scan(&topic, &data); err != nil {
			return nil, err
		}
		var seq session.Sequence
		if err := json.Unmarshal([]byte(data), &seq); err != nil {
			return nil, fmt.Errorf("decode session %q: %w", topic, err)
		}
		out = append(out, seq)
	}
	return out, rows.Err()
}
