package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const nodesSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	name       TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore is a local-mode registry kept in a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the registry database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("registry path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %v: %w", err, ErrUnavailable)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %v: %w", err, ErrUnavailable)
	}
	if _, err := db.Exec(nodesSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create nodes table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ListNodes returns every stored node.
func (s *SQLiteStore) ListNodes(ctx context.Context) (map[string]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, document FROM nodes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %v: %w", err, ErrUnavailable)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]Record)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode node %q: %v: %w", name, err, ErrMalformedRecord)
		}
		out[name] = Record{Name: name, Document: doc}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return out, nil
}

// Put inserts or replaces a node record.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.Name) == "" {
		return fmt.Errorf("node name is empty")
	}
	raw, err := json.Marshal(rec.Document)
	if err != nil {
		return fmt.Errorf("encode node %q: %w", rec.Name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes (name, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		rec.Name, string(raw), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store node %q: %w", rec.Name, err)
	}
	return nil
}

// Delete removes a node record. Deleting an unknown node is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete node %q: %w", name, err)
	}
	return nil
}
