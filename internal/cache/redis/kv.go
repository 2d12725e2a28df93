package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

// KV implements domain.KV with one Redis string per entity.
//
// Key schema:
//
//	entity:{kind}:{key} - JSON record
type KV struct {
	rdb *redis.Client
}

// NewKV creates a KV backed by the given Client.
func NewKV(c *Client) *KV {
	return &KV{rdb: c.Underlying()}
}

func entityKey(kind domain.Kind, key string) string {
	return "entity:" + string(kind) + ":" + key
}

// Load returns the record or domain.ErrNotFound.
func (s *KV) Load(ctx context.Context, kind domain.Kind, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, entityKey(kind, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get %s %s: %w", kind, key, err)
	}
	return data, nil
}

// Upsert stores the record without expiry.
func (s *KV) Upsert(ctx context.Context, kind domain.Kind, key string, value []byte) error {
	if err := s.rdb.Set(ctx, entityKey(kind, key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s %s: %w", kind, key, err)
	}
	return nil
}

// Delete removes the record.
func (s *KV) Delete(ctx context.Context, kind domain.Kind, key string) error {
	if err := s.rdb.Del(ctx, entityKey(kind, key)).Err(); err != nil {
		return fmt.Errorf("redis: del %s %s: %w", kind, key, err)
	}
	return nil
}

var _ domain.KV = (*KV)(nil)
