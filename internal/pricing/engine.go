// Package pricing converts raw sale prices into the reference stable
// currency using a Uniswap V2 style router.
package pricing

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

// Engine quotes amounts of any token in USDC. WETH is the routing hub for
// tokens without a direct USDC pool.
type Engine struct {
	router domain.QuoteRouter
	usdc   common.Address
	weth   common.Address
}

// NewEngine creates an Engine.
func NewEngine(router domain.QuoteRouter, usdc, weth common.Address) *Engine {
	return &Engine{router: router, usdc: usdc, weth: weth}
}

// Normalize returns price, denominated in token's smallest unit, as an amount
// of USDC's smallest unit. The native sentinel is quoted as WETH. The error
// wraps domain.ErrNoQuote when neither the direct nor the WETH route yields a
// quote.
func (e *Engine) Normalize(ctx context.Context, price *big.Int, token common.Address) (*big.Int, error) {
	if price == nil || price.Sign() == 0 {
		return new(big.Int), nil
	}
	if token == e.usdc {
		return new(big.Int).Set(price), nil
	}
	if token == domain.NativeToken {
		token = e.weth
	}

	out, directErr := e.quote(ctx, price, token, e.usdc)
	if directErr == nil {
		return out, nil
	}
	if token == e.weth {
		return nil, fmt.Errorf("pricing: %s: %w: %w", token.Hex(), domain.ErrNoQuote, directErr)
	}

	hop, err := e.quote(ctx, price, token, e.weth)
	if err == nil {
		out, err = e.quote(ctx, hop, e.weth, e.usdc)
	}
	if err != nil {
		return nil, fmt.Errorf("pricing: %s: %w: direct: %w; via weth: %w",
			token.Hex(), domain.ErrNoQuote, directErr, err)
	}
	return out, nil
}

// quote asks the router for a single-pair swap and returns the output amount.
func (e *Engine) quote(ctx context.Context, amountIn *big.Int, from, to common.Address) (*big.Int, error) {
	amounts, err := e.router.GetAmountsOut(ctx, amountIn, []common.Address{from, to})
	if err != nil {
		return nil, err
	}
	if len(amounts) != 2 || amounts[1] == nil {
		return nil, fmt.Errorf("%w: %d amounts for a single hop", domain.ErrMalformedQuote, len(amounts))
	}
	return amounts[1], nil
}
