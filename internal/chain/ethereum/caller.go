package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

// ContractCaller executes read-only calls. *ethclient.Client implements it.
type ContractCaller interface {
	CallContract(ctx context.Context, call goethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Caller performs ABI-encoded calls and classifies failures. A call that
// reverted, hit an account without code or returned undecodable data fails
// with domain.ErrReverted; anything else is a transport error.
type Caller struct {
	backend ContractCaller
	// pinned makes calls execute at the block carried by the context
	// (domain.WithBlockNumber) instead of the latest block.
	pinned  bool
	limiter *rate.Limiter
}

// NewCaller creates a Caller. With pinned set, reads are evaluated at the
// block being processed, which requires an archive node for old blocks.
func NewCaller(backend ContractCaller, pinned bool) *Caller {
	return &Caller{backend: backend, pinned: pinned}
}

// WithRateLimit caps calls at rps per second with the given burst. A
// non-positive rps leaves calls unthrottled.
func (c *Caller) WithRateLimit(rps float64, burst int) *Caller {
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
	return c
}

func (c *Caller) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ethereum: pack %s: %w", method, err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("ethereum: %s on %s: rate limit: %w", method, to.Hex(), err)
		}
	}

	var block *big.Int
	if c.pinned {
		if n, ok := domain.BlockNumberFrom(ctx); ok {
			block = new(big.Int).SetUint64(n)
		}
	}

	out, err := c.backend.CallContract(ctx, goethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("ethereum: %s on %s: %w: %v", method, to.Hex(), domain.ErrReverted, err)
		}
		return nil, fmt.Errorf("ethereum: %s on %s: %w", method, to.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ethereum: %s on %s: %w: empty result", method, to.Hex(), domain.ErrReverted)
	}

	values, err := contract.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return nil, fmt.Errorf("ethereum: %s on %s: %w: undecodable result", method, to.Hex(), domain.ErrReverted)
	}
	return values, nil
}

func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func (c *Caller) callString(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (string, error) {
	values, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		return "", err
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("ethereum: %s on %s: %w: got %T", method, to.Hex(), domain.ErrReverted, values[0])
	}
	return s, nil
}

// ERC20 reads payment token metadata.
type ERC20 struct{ c *Caller }

// NewERC20 creates an ERC20 reader.
func NewERC20(c *Caller) *ERC20 { return &ERC20{c: c} }

// Symbol returns the ERC-20 symbol of token.
func (e *ERC20) Symbol(ctx context.Context, token common.Address) (string, error) {
	return e.c.callString(ctx, erc20ABI, token, "symbol")
}

// Name returns the ERC-20 name of token.
func (e *ERC20) Name(ctx context.Context, token common.Address) (string, error) {
	return e.c.callString(ctx, erc20ABI, token, "name")
}

// Decimals returns the number of decimals token amounts are scaled by.
func (e *ERC20) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	values, err := e.c.call(ctx, erc20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("ethereum: decimals on %s: %w: got %T", token.Hex(), domain.ErrReverted, values[0])
	}
	return d, nil
}

// NFT reads ERC-721 collection and token metadata.
type NFT struct{ c *Caller }

// NewNFT creates an NFT reader.
func NewNFT(c *Caller) *NFT { return &NFT{c: c} }

// Name returns the collection name.
func (n *NFT) Name(ctx context.Context, collection common.Address) (string, error) {
	return n.c.callString(ctx, erc721ABI, collection, "name")
}

// Symbol returns the collection symbol.
func (n *NFT) Symbol(ctx context.Context, collection common.Address) (string, error) {
	return n.c.callString(ctx, erc721ABI, collection, "symbol")
}

// TokenURI returns the metadata URI of tokenID in collection.
func (n *NFT) TokenURI(ctx context.Context, collection common.Address, tokenID *big.Int) (string, error) {
	return n.c.callString(ctx, erc721ABI, collection, "tokenURI", tokenID)
}

// Router quotes swaps on a Uniswap V2 style router.
type Router struct {
	c       *Caller
	address common.Address
}

// NewRouter creates a Router for the router contract at address.
func NewRouter(c *Caller, address common.Address) *Router {
	return &Router{c: c, address: address}
}

// GetAmountsOut quotes amountIn along path. The result holds one amount per
// path element, the last being the output amount.
func (r *Router) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	values, err := r.c.call(ctx, routerABI, r.address, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("ethereum: getAmountsOut: %w: got %T", domain.ErrMalformedQuote, values[0])
	}
	return amounts, nil
}

var (
	_ domain.ERC20Reader = (*ERC20)(nil)
	_ domain.NFTReader   = (*NFT)(nil)
	_ domain.QuoteRouter = (*Router)(nil)
)
