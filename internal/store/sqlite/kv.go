// Package sqlite implements domain.KV on an embedded SQLite database for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	kind TEXT NOT NULL,
	key  TEXT NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (kind, key)
) WITHOUT ROWID;`

// KV is a SQLite-backed domain.KV.
type KV struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema. It is
// safe to call on an existing database.
func Open(path string) (*KV, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}

	// SQLite allows one writer; the indexer is single-threaded anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &KV{db: db}, nil
}

// Close closes the database.
func (s *KV) Close() error {
	return s.db.Close()
}

// Load returns the stored record or domain.ErrNotFound.
func (s *KV) Load(ctx context.Context, kind domain.Kind, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM entities WHERE kind = ? AND key = ?`,
		string(kind), key,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: load %s %s: %w", kind, key, err)
	}
	return data, nil
}

// Upsert replaces the record stored under (kind, key).
func (s *KV) Upsert(ctx context.Context, kind domain.Kind, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (kind, key, data) VALUES (?, ?, ?)
		 ON CONFLICT (kind, key) DO UPDATE SET data = excluded.data`,
		string(kind), key, value,
	); err != nil {
		return fmt.Errorf("sqlite: upsert %s %s: %w", kind, key, err)
	}
	return nil
}

// Delete removes the record stored under (kind, key).
func (s *KV) Delete(ctx context.Context, kind domain.Kind, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE kind = ? AND key = ?`,
		string(kind), key,
	); err != nil {
		return fmt.Errorf("sqlite: delete %s %s: %w", kind, key, err)
	}
	return nil
}

var _ domain.KV = (*KV)(nil)
