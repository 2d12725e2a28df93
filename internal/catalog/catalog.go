// Package catalog maintains Collection and Token metadata for sold NFTs.
//
// Metadata reads never block a sale. A read that fails leaves the field
// absent and the next sale of the same collection or token tries again. When
// a read returns a value different from the stored one the new value wins and
// the conflict is logged.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/store"
)

// Catalog records collections and tokens.
type Catalog struct {
	collections *store.Repo[domain.Collection]
	tokens      *store.Repo[domain.Token]
	nft         domain.NFTReader
	logger      *slog.Logger
}

// New creates a Catalog.
func New(entities *store.Entities, nft domain.NFTReader, logger *slog.Logger) *Catalog {
	return &Catalog{
		collections: entities.Collections,
		tokens:      entities.Tokens,
		nft:         nft,
		logger:      logger.With(slog.String("component", "catalog")),
	}
}

// SaleCommitted records the collection and token of a committed sale.
func (c *Catalog) SaleCommitted(ctx context.Context, sale domain.Sale) error {
	if err := c.RecordCollection(ctx, sale.Collection); err != nil {
		return err
	}
	return c.RecordToken(ctx, sale.Collection, sale.TokenID)
}

// RecordCollection creates the collection if missing and fills in absent
// fields.
func (c *Catalog) RecordCollection(ctx context.Context, addr common.Address) error {
	id := domain.AddressKey(addr)

	rec, err := c.collections.Get(ctx, id)
	isNew := errors.Is(err, domain.ErrNotFound)
	switch {
	case isNew:
		rec = &domain.Collection{ID: id, Address: addr}
	case err != nil:
		return fmt.Errorf("catalog: collection %s: %w", id, err)
	}

	changed := isNew
	if rec.Name == nil {
		if v, ok := c.read(ctx, "name", id, func() (string, error) { return c.nft.Name(ctx, addr) }); ok {
			rec.Name = &v
			changed = true
		}
	}
	if rec.Symbol == nil {
		if v, ok := c.read(ctx, "symbol", id, func() (string, error) { return c.nft.Symbol(ctx, addr) }); ok {
			rec.Symbol = &v
			changed = true
		}
	}
	if !changed {
		return nil
	}

	if err := c.collections.Put(ctx, id, rec); err != nil {
		return fmt.Errorf("catalog: collection %s: %w", id, err)
	}
	if isNew {
		c.logger.InfoContext(ctx, "collection stored", slog.String("collection", id))
	}
	return nil
}

// RecordToken creates the token if missing and refreshes its URI.
func (c *Catalog) RecordToken(ctx context.Context, collection common.Address, tokenID *big.Int) error {
	id := domain.TokenKey(collection, tokenID)

	rec, err := c.tokens.Get(ctx, id)
	isNew := errors.Is(err, domain.ErrNotFound)
	switch {
	case isNew:
		rec = &domain.Token{
			ID:         id,
			Collection: domain.AddressKey(collection),
			TokenID:    tokenID,
		}
	case err != nil:
		return fmt.Errorf("catalog: token %s: %w", id, err)
	}

	changed := isNew
	uri, ok := c.read(ctx, "tokenURI", id, func() (string, error) { return c.nft.TokenURI(ctx, collection, tokenID) })
	if ok {
		switch {
		case rec.TokenURI == nil:
			rec.TokenURI = &uri
			changed = true
		case *rec.TokenURI != uri:
			c.logger.WarnContext(ctx, "token uri changed",
				slog.String("token", id),
				slog.String("old", *rec.TokenURI),
				slog.String("new", uri),
			)
			rec.TokenURI = &uri
			changed = true
		}
	}
	if !changed {
		return nil
	}

	if err := c.tokens.Put(ctx, id, rec); err != nil {
		return fmt.Errorf("catalog: token %s: %w", id, err)
	}
	return nil
}

func (c *Catalog) read(ctx context.Context, field, id string, call func() (string, error)) (string, bool) {
	v, err := call()
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to load "+field,
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	return v, true
}

var _ domain.SaleSink = (*Catalog)(nil)
