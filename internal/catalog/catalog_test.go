package catalog

import (
	"bytes"
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/store"
	"github.com/KowsarAtz/nfts-price/internal/store/memory"
)

var collection = common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")

type fakeNFT struct {
	name, symbol, uri string
	revert            map[string]bool
}

func (f *fakeNFT) get(method, v string) (string, error) {
	if f.revert[method] {
		return "", domain.ErrReverted
	}
	return v, nil
}

func (f *fakeNFT) Name(context.Context, common.Address) (string, error) {
	return f.get("name", f.name)
}

func (f *fakeNFT) Symbol(context.Context, common.Address) (string, error) {
	return f.get("symbol", f.symbol)
}

func (f *fakeNFT) TokenURI(context.Context, common.Address, *big.Int) (string, error) {
	return f.get("tokenURI", f.uri)
}

func newCatalog(nft domain.NFTReader) (*Catalog, *store.Entities, *bytes.Buffer) {
	entities := store.NewEntities(memory.NewKV())
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	return New(entities, nft, logger), entities, logs
}

func sale(tokenID int64) domain.Sale {
	return domain.Sale{Collection: collection, TokenID: big.NewInt(tokenID)}
}

func TestSaleCommitted_CreatesCollectionAndToken(t *testing.T) {
	nft := &fakeNFT{name: "BoredApeYachtClub", symbol: "BAYC", uri: "ipfs://a/42"}
	c, entities, _ := newCatalog(nft)
	ctx := context.Background()

	require.NoError(t, c.SaleCommitted(ctx, sale(42)))

	col, err := entities.Collections.Get(ctx, domain.AddressKey(collection))
	require.NoError(t, err)
	require.NotNil(t, col.Name)
	require.NotNil(t, col.Symbol)
	assert.Equal(t, "BoredApeYachtClub", *col.Name)
	assert.Equal(t, "BAYC", *col.Symbol)

	tok, err := entities.Tokens.Get(ctx, domain.TokenKey(collection, big.NewInt(42)))
	require.NoError(t, err)
	require.NotNil(t, tok.TokenURI)
	assert.Equal(t, "ipfs://a/42", *tok.TokenURI)
	assert.Equal(t, domain.AddressKey(collection), tok.Collection)
}

func TestSaleCommitted_RevertLeavesFieldAbsent(t *testing.T) {
	nft := &fakeNFT{name: "N", symbol: "S", uri: "u", revert: map[string]bool{"symbol": true, "tokenURI": true}}
	c, entities, logs := newCatalog(nft)
	ctx := context.Background()

	require.NoError(t, c.SaleCommitted(ctx, sale(1)))

	col, err := entities.Collections.Get(ctx, domain.AddressKey(collection))
	require.NoError(t, err)
	assert.Nil(t, col.Symbol)
	require.NotNil(t, col.Name)

	tok, err := entities.Tokens.Get(ctx, domain.TokenKey(collection, big.NewInt(1)))
	require.NoError(t, err)
	assert.Nil(t, tok.TokenURI)
	assert.Contains(t, logs.String(), "failed to load symbol")
	assert.Contains(t, logs.String(), "failed to load tokenURI")

	// A later sale fills in what was missing.
	nft.revert = nil
	require.NoError(t, c.SaleCommitted(ctx, sale(1)))

	col, err = entities.Collections.Get(ctx, domain.AddressKey(collection))
	require.NoError(t, err)
	require.NotNil(t, col.Symbol)
	assert.Equal(t, "S", *col.Symbol)

	tok, err = entities.Tokens.Get(ctx, domain.TokenKey(collection, big.NewInt(1)))
	require.NoError(t, err)
	require.NotNil(t, tok.TokenURI)
	assert.Equal(t, "u", *tok.TokenURI)
}

func TestRecordToken_LastWriterWins(t *testing.T) {
	nft := &fakeNFT{name: "N", symbol: "S", uri: "ipfs://old"}
	c, entities, logs := newCatalog(nft)
	ctx := context.Background()

	require.NoError(t, c.SaleCommitted(ctx, sale(7)))
	nft.uri = "ipfs://new"
	require.NoError(t, c.SaleCommitted(ctx, sale(7)))

	tok, err := entities.Tokens.Get(ctx, domain.TokenKey(collection, big.NewInt(7)))
	require.NoError(t, err)
	assert.Equal(t, "ipfs://new", *tok.TokenURI)
	assert.Contains(t, logs.String(), "token uri changed")
}

func TestRecordCollection_KeepsStoredValues(t *testing.T) {
	nft := &fakeNFT{name: "First", symbol: "F"}
	c, entities, _ := newCatalog(nft)
	ctx := context.Background()

	require.NoError(t, c.RecordCollection(ctx, collection))
	nft.name = "Second"
	require.NoError(t, c.RecordCollection(ctx, collection))

	col, err := entities.Collections.Get(ctx, domain.AddressKey(collection))
	require.NoError(t, err)
	assert.Equal(t, "First", *col.Name)
}
