package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

func TestKV_RoundTrip(t *testing.T) {
	kv, err := Open(filepath.Join(t.TempDir(), "entities.db"))
	require.NoError(t, err)
	defer kv.Close()

	ctx := context.Background()

	_, err = kv.Load(ctx, domain.KindSale, "0xabc:6")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, kv.Upsert(ctx, domain.KindSale, "0xabc:6", []byte(`{"id":"0xabc:6"}`)))
	require.NoError(t, kv.Upsert(ctx, domain.KindSale, "0xabc:6", []byte(`{"id":"0xabc:6","price":1}`)))

	got, err := kv.Load(ctx, domain.KindSale, "0xabc:6")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"0xabc:6","price":1}`, string(got))

	// Same key under another kind is a different record.
	_, err = kv.Load(ctx, domain.KindToken, "0xabc:6")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, kv.Delete(ctx, domain.KindSale, "0xabc:6"))
	require.NoError(t, kv.Delete(ctx, domain.KindSale, "0xabc:6"))
	_, err = kv.Load(ctx, domain.KindSale, "0xabc:6")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
