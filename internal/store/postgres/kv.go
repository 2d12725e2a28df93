package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

// KV implements domain.KV on a single (kind, key) -> JSONB table.
type KV struct {
	pool *pgxpool.Pool
}

// NewKV creates a KV backed by the given connection pool.
func NewKV(pool *pgxpool.Pool) *KV {
	return &KV{pool: pool}
}

// Load returns the stored record or domain.ErrNotFound.
func (s *KV) Load(ctx context.Context, kind domain.Kind, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM entities WHERE kind = $1 AND key = $2`,
		string(kind), key,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: load %s %s: %w", kind, key, err)
	}
	return data, nil
}

// Upsert replaces the whole record stored under (kind, key).
func (s *KV) Upsert(ctx context.Context, kind domain.Kind, key string, value []byte) error {
	const query = `
		INSERT INTO entities (kind, key, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (kind, key) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, string(kind), key, value); err != nil {
		return fmt.Errorf("postgres: upsert %s %s: %w", kind, key, err)
	}
	return nil
}

// Delete removes the record stored under (kind, key).
func (s *KV) Delete(ctx context.Context, kind domain.Kind, key string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM entities WHERE kind = $1 AND key = $2`,
		string(kind), key,
	); err != nil {
		return fmt.Errorf("postgres: delete %s %s: %w", kind, key, err)
	}
	return nil
}

var _ domain.KV = (*KV)(nil)
