// Package tokens resolves and stores payment token metadata.
package tokens

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/store"
)

// Native currency metadata.
const (
	NativeName     = "Ether"
	NativeSymbol   = "ETH"
	NativeDecimals = 18
)

// Resolver creates PaymentToken records at most once per address.
type Resolver struct {
	tokens *store.Repo[domain.PaymentToken]
	erc20  domain.ERC20Reader
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(tokens *store.Repo[domain.PaymentToken], erc20 domain.ERC20Reader, logger *slog.Logger) *Resolver {
	return &Resolver{
		tokens: tokens,
		erc20:  erc20,
		logger: logger.With(slog.String("component", "tokens")),
	}
}

// Resolve ensures a PaymentToken record exists for addr. It fails when any of
// the metadata reads fails, in which case nothing is stored.
func (r *Resolver) Resolve(ctx context.Context, addr common.Address) error {
	id := domain.AddressKey(addr)

	exists, err := r.tokens.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("tokens: resolve %s: %w", id, err)
	}
	if exists {
		return nil
	}

	rec := &domain.PaymentToken{ID: id, Address: addr}
	if addr == domain.NativeToken {
		rec.Name = NativeName
		rec.Symbol = NativeSymbol
		rec.Decimals = NativeDecimals
	} else if err := r.read(ctx, rec); err != nil {
		r.logger.WarnContext(ctx, "payment token metadata unavailable",
			slog.String("token", id),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("tokens: resolve %s: %w", id, err)
	}

	if err := r.tokens.Put(ctx, id, rec); err != nil {
		return fmt.Errorf("tokens: resolve %s: %w", id, err)
	}
	r.logger.InfoContext(ctx, "payment token stored",
		slog.String("token", id),
		slog.String("symbol", rec.Symbol),
		slog.Int("decimals", int(rec.Decimals)),
	)
	return nil
}

func (r *Resolver) read(ctx context.Context, rec *domain.PaymentToken) error {
	symbol, err := r.erc20.Symbol(ctx, rec.Address)
	if err != nil {
		return fmt.Errorf("symbol: %w", err)
	}
	name, err := r.erc20.Name(ctx, rec.Address)
	if err != nil {
		return fmt.Errorf("name: %w", err)
	}
	decimals, err := r.erc20.Decimals(ctx, rec.Address)
	if err != nil {
		return fmt.Errorf("decimals: %w", err)
	}
	rec.Symbol = symbol
	rec.Name = name
	rec.Decimals = decimals
	return nil
}
