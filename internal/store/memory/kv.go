// Package memory implements domain.KV in process memory.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

type entryKey struct {
	kind domain.Kind
	key  string
}

// KV is an in-memory domain.KV. Values are copied on the way in and out so
// callers can never alias stored state.
type KV struct {
	mu   sync.RWMutex
	data map[entryKey][]byte
}

// NewKV creates an empty store.
func NewKV() *KV {
	return &KV{data: make(map[entryKey][]byte)}
}

// Load returns the value stored under (kind, key) or domain.ErrNotFound.
func (s *KV) Load(_ context.Context, kind domain.Kind, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[entryKey{kind, key}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return slices.Clone(v), nil
}

// Upsert stores value under (kind, key).
func (s *KV) Upsert(_ context.Context, kind domain.Kind, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[entryKey{kind, key}] = slices.Clone(value)
	return nil
}

// Delete removes (kind, key).
func (s *KV) Delete(_ context.Context, kind domain.Kind, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, entryKey{kind, key})
	return nil
}

var _ domain.KV = (*KV)(nil)
