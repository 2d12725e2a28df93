package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"explicit dsn wins", ClientConfig{DSN: "postgres://x", Host: "h"}, "postgres://x"},
		{"defaults", ClientConfig{User: "u", Password: "p", Host: "h", Database: "d"}, "postgres://u:p@h:5432/d?sslmode=disable"},
		{"explicit port and ssl", ClientConfig{User: "u", Host: "h", Port: 6432, Database: "d", SSLMode: "require"}, "postgres://u:@h:6432/d?sslmode=require"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

// TestKV runs against the database named by NFTSALES_TEST_POSTGRES_DSN.
func TestKV(t *testing.T) {
	dsn := os.Getenv("NFTSALES_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NFTSALES_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx))

	kv := c.KV()
	key := uuid.NewString()

	_, err = kv.Load(ctx, domain.KindToken, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, kv.Upsert(ctx, domain.KindToken, key, []byte(`{"id":"a"}`)))
	require.NoError(t, kv.Upsert(ctx, domain.KindToken, key, []byte(`{"id":"a","tokenUri":"ipfs://x"}`)))
	got, err := kv.Load(ctx, domain.KindToken, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a","tokenUri":"ipfs://x"}`, string(got))

	require.NoError(t, kv.Delete(ctx, domain.KindToken, key))
	_, err = kv.Load(ctx, domain.KindToken, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
