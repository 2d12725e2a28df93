package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// External contract reads. A call that executed but reverted returns an error
// wrapping ErrReverted; transport failures return other errors. Callers must
// check the error before trusting any returned value.

// ERC20Reader reads fungible token metadata.
type ERC20Reader interface {
	Symbol(ctx context.Context, token common.Address) (string, error)
	Name(ctx context.Context, token common.Address) (string, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// NFTReader reads ERC-721 collection and token metadata.
type NFTReader interface {
	Name(ctx context.Context, collection common.Address) (string, error)
	Symbol(ctx context.Context, collection common.Address) (string, error)
	TokenURI(ctx context.Context, collection common.Address, tokenID *big.Int) (string, error)
}

// QuoteRouter is a Uniswap V2 style router.
type QuoteRouter interface {
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

type blockKey struct{}

// WithBlockNumber returns a context that pins contract reads to block n.
func WithBlockNumber(ctx context.Context, n uint64) context.Context {
	return context.WithValue(ctx, blockKey{}, n)
}

// BlockNumberFrom returns the block pinned by WithBlockNumber.
func BlockNumberFrom(ctx context.Context) (uint64, bool) {
	n, ok := ctx.Value(blockKey{}).(uint64)
	return n, ok
}
