package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

// newTestClient connects to the Redis named by NFTSALES_TEST_REDIS_ADDR.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("NFTSALES_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NFTSALES_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKV(t *testing.T) {
	c := newTestClient(t)
	kv := NewKV(c)
	ctx := context.Background()
	key := uuid.NewString()

	_, err := kv.Load(ctx, domain.KindSale, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, kv.Upsert(ctx, domain.KindSale, key, []byte(`{"id":"x"}`)))
	got, err := kv.Load(ctx, domain.KindSale, key)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"x"}`, string(got))

	require.NoError(t, kv.Delete(ctx, domain.KindSale, key))
	_, err = kv.Load(ctx, domain.KindSale, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	l, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	require.NoError(t, l.Refresh(ctx, time.Minute))

	l.Release()
	l.Release()
	assert.ErrorIs(t, l.Refresh(ctx, time.Minute), domain.ErrLockHeld)

	l2, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	l2.Release()
}
