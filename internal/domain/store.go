package domain

import "context"

// KV is the durable entity store. Values are whole records: there is no
// partial update, and Upsert always replaces the stored value.
type KV interface {
	// Load returns the stored value or ErrNotFound.
	Load(ctx context.Context, kind Kind, key string) ([]byte, error)
	Upsert(ctx context.Context, kind Kind, key string, value []byte) error
	// Delete is a no-op when the key is absent.
	Delete(ctx context.Context, kind Kind, key string) error
}
