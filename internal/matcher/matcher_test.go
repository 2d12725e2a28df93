package matcher

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/ingest"
	"github.com/KowsarAtz/nfts-price/internal/ledger"
	"github.com/KowsarAtz/nfts-price/internal/pricing"
	"github.com/KowsarAtz/nfts-price/internal/store"
	"github.com/KowsarAtz/nfts-price/internal/store/memory"
	"github.com/KowsarAtz/nfts-price/internal/tokens"
)

var (
	txHash     = common.HexToHash("0x9f3c")
	exchange   = common.HexToAddress("0x7Be8076f4EA4A4AD08075C2508e481d6C946D12b")
	collection = common.HexToAddress("0xC0")
	seller     = common.HexToAddress("0x5E")
	buyer      = common.HexToAddress("0xB0")
	usdc       = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth       = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	ape        = common.HexToAddress("0x4d224452801ACEd8B2F0aebE155379bb5D594381")
)

type fakeERC20 struct{ revert bool }

func (f fakeERC20) result(v string) (string, error) {
	if f.revert {
		return "", domain.ErrReverted
	}
	return v, nil
}

func (f fakeERC20) Symbol(context.Context, common.Address) (string, error) { return f.result("TKN") }
func (f fakeERC20) Name(context.Context, common.Address) (string, error)   { return f.result("Token") }
func (f fakeERC20) Decimals(context.Context, common.Address) (uint8, error) {
	_, err := f.result("")
	return 18, err
}

// fakeRouter quotes WETH→USDC at 2000 and reverts every other pair.
type fakeRouter struct{ calls int }

func (r *fakeRouter) GetAmountsOut(_ context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	r.calls++
	if path[0] == weth && path[1] == usdc {
		return []*big.Int{amountIn, new(big.Int).Mul(amountIn, big.NewInt(2000))}, nil
	}
	return nil, domain.ErrReverted
}

type fixture struct {
	entities *store.Entities
	ledger   *ledger.Ledger
	ingest   *ingest.Handlers
	matcher  *Matcher
	router   *fakeRouter
	logs     *bytes.Buffer
}

func newFixture(erc20 domain.ERC20Reader) *fixture {
	return newFixtureOn(erc20, memory.NewKV())
}

func newFixtureOn(erc20 domain.ERC20Reader, kv domain.KV) *fixture {
	entities := store.NewEntities(kv)
	l := ledger.New(entities.Transactions)
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	router := &fakeRouter{}
	return &fixture{
		entities: entities,
		ledger:   l,
		ingest:   ingest.New(entities, l, logger),
		matcher: New(entities, l,
			tokens.NewResolver(entities.PaymentTokens, erc20, logger),
			pricing.NewEngine(router, usdc, weth),
			logger,
		),
		router: router,
		logs:   logs,
	}
}

func meta(logIndex uint, addr common.Address) domain.LogMeta {
	return domain.LogMeta{TxHash: txHash, LogIndex: logIndex, BlockNumber: 14_000_000, Timestamp: 1_640_000_000, Address: addr}
}

func (f *fixture) transfer(t *testing.T, logIndex uint) {
	t.Helper()
	require.NoError(t, f.ingest.HandleTransfer(context.Background(), domain.TransferEvent{
		LogMeta: meta(logIndex, collection),
		From:    seller,
		To:      buyer,
		TokenID: big.NewInt(42),
	}))
}

func (f *fixture) payment(t *testing.T, logIndex uint, token common.Address) {
	t.Helper()
	require.NoError(t, f.ingest.HandlePaymentTransfer(context.Background(), domain.PaymentTransferEvent{
		LogMeta: meta(logIndex, token),
		From:    buyer,
		To:      seller,
		Value:   big.NewInt(1_000_000),
	}))
}

func ordersMatched(logIndex uint, price int64) domain.OrdersMatchedEvent {
	return domain.OrdersMatchedEvent{
		LogMeta:  meta(logIndex, exchange),
		BuyHash:  common.HexToHash("0xb1"),
		SellHash: common.HexToHash("0x51"),
		Maker:    seller,
		Taker:    buyer,
		Price:    big.NewInt(price),
		Metadata: []byte{0xca, 0xfe},
	}
}

func TestMatchEvent_NativeSale(t *testing.T) {
	f := newFixture(fakeERC20{})
	ctx := context.Background()

	f.transfer(t, 5)
	sale, err := f.matcher.MatchEvent(ctx, ordersMatched(6, 1_000_000))
	require.NoError(t, err)
	require.NotNil(t, sale)

	assert.Equal(t, domain.LogKey(txHash, 6), sale.ID)
	assert.Equal(t, collection, sale.Collection)
	assert.Equal(t, "42", sale.TokenID.String())
	assert.Equal(t, seller, sale.Seller)
	assert.Equal(t, buyer, sale.Buyer)
	assert.Equal(t, exchange, sale.Exchange)
	assert.Equal(t, domain.AddressKey(domain.NativeToken), sale.PaymentToken)
	assert.Equal(t, "2000000000", sale.USDPrice.String())
	assert.Equal(t, domain.LogKey(txHash, 5), sale.Transfer)
	assert.Nil(t, sale.PaymentTransfer)

	stored, err := f.entities.Sales.Get(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.USDPrice.String(), stored.USDPrice.String())

	token, err := f.entities.PaymentTokens.Get(ctx, domain.AddressKey(domain.NativeToken))
	require.NoError(t, err)
	assert.Equal(t, "ETH", token.Symbol)

	exists, err := f.entities.OwnershipTransfers.Exists(ctx, domain.LogKey(txHash, 5))
	require.NoError(t, err)
	assert.False(t, exists, "consumed transfer must be deleted")

	tx, err := f.ledger.Get(ctx, txHash)
	require.NoError(t, err)
	assert.Empty(t, tx.OwnershipTransfers)
}

func TestMatchEvent_ERC20Payment(t *testing.T) {
	f := newFixture(fakeERC20{})
	ctx := context.Background()

	f.payment(t, 3, weth)
	f.transfer(t, 5)
	sale, err := f.matcher.MatchEvent(ctx, ordersMatched(6, 5))
	require.NoError(t, err)
	require.NotNil(t, sale)

	assert.Equal(t, domain.AddressKey(weth), sale.PaymentToken)
	require.NotNil(t, sale.PaymentTransfer)
	assert.Equal(t, domain.LogKey(txHash, 3), *sale.PaymentTransfer)
	assert.Equal(t, "10000", sale.USDPrice.String())

	exists, err := f.entities.PaymentTransfers.Exists(ctx, domain.LogKey(txHash, 3))
	require.NoError(t, err)
	assert.False(t, exists)

	tx, err := f.ledger.Get(ctx, txHash)
	require.NoError(t, err)
	assert.Empty(t, tx.PaymentTransfers)
}

func TestMatchEvent_Adjacency(t *testing.T) {
	tests := []struct {
		name          string
		transferIndex uint
		orderIndex    uint
		wantSale      bool
	}{
		{name: "adjacent", transferIndex: 5, orderIndex: 6, wantSale: true},
		{name: "gap", transferIndex: 4, orderIndex: 6},
		{name: "order before transfer", transferIndex: 7, orderIndex: 6},
		{name: "same index", transferIndex: 6, orderIndex: 6},
		{name: "order at zero", transferIndex: 0, orderIndex: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(fakeERC20{})
			ctx := context.Background()

			f.payment(t, 1, weth)
			f.transfer(t, tt.transferIndex)
			sale, err := f.matcher.MatchEvent(ctx, ordersMatched(tt.orderIndex, 100))
			require.NoError(t, err)

			tx, err := f.ledger.Get(ctx, txHash)
			require.NoError(t, err)

			if tt.wantSale {
				require.NotNil(t, sale)
				assert.Empty(t, tx.OwnershipTransfers)
				return
			}
			assert.Nil(t, sale)
			assert.Equal(t, []string{domain.LogKey(txHash, tt.transferIndex)}, tx.OwnershipTransfers)
			assert.Equal(t, []string{domain.LogKey(txHash, 1)}, tx.PaymentTransfers)
			assert.Contains(t, f.logs.String(), "not adjacent")

			exists, err := f.entities.Sales.Exists(ctx, domain.LogKey(txHash, tt.orderIndex))
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestMatchEvent_NoPrecedingTransfer(t *testing.T) {
	f := newFixture(fakeERC20{})
	ctx := context.Background()

	f.payment(t, 2, weth)
	before, err := f.ledger.Get(ctx, txHash)
	require.NoError(t, err)

	sale, err := f.matcher.MatchEvent(ctx, ordersMatched(6, 1_000_000))
	require.NoError(t, err)
	assert.Nil(t, sale)

	after, err := f.ledger.Get(ctx, txHash)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Contains(t, f.logs.String(), `"level":"WARN"`)
	assert.Contains(t, f.logs.String(), "no pending transfer")
}

func TestMatchEvent_UnknownTransaction(t *testing.T) {
	f := newFixture(fakeERC20{})

	sale, err := f.matcher.MatchEvent(context.Background(), ordersMatched(6, 1))
	require.NoError(t, err)
	assert.Nil(t, sale)
	assert.Contains(t, f.logs.String(), "no pending logs for transaction")
}

func TestMatchEvent_RedeliveryCreatesNoSecondSale(t *testing.T) {
	f := newFixture(fakeERC20{})
	ctx := context.Background()

	f.transfer(t, 5)
	first, err := f.matcher.MatchEvent(ctx, ordersMatched(6, 1))
	require.NoError(t, err)
	require.NotNil(t, first)

	// A second transfer queued in the same transaction must survive the
	// redelivered settlement.
	f.transfer(t, 8)
	before, err := f.ledger.Get(ctx, txHash)
	require.NoError(t, err)

	second, err := f.matcher.MatchEvent(ctx, ordersMatched(6, 1))
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Contains(t, f.logs.String(), "sale already exists")

	after, err := f.ledger.Get(ctx, txHash)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// failingKV rejects writes of one kind while fail is set.
type failingKV struct {
	domain.KV
	kind domain.Kind
	fail bool
}

func (k *failingKV) Upsert(ctx context.Context, kind domain.Kind, key string, value []byte) error {
	if k.fail && kind == k.kind {
		return errors.New("store unavailable")
	}
	return k.KV.Upsert(ctx, kind, key, value)
}

func TestMatchEvent_RedeliveryCompletesInterruptedConsume(t *testing.T) {
	kv := &failingKV{KV: memory.NewKV(), kind: domain.KindTransaction}
	f := newFixtureOn(fakeERC20{}, kv)
	ctx := context.Background()

	f.transfer(t, 5)
	kv.fail = true
	sale, err := f.matcher.MatchEvent(ctx, ordersMatched(6, 1))
	require.Error(t, err)
	assert.Nil(t, sale)
	assert.Contains(t, f.logs.String(), "sale stored but its logs are still queued")

	kv.fail = false
	f.transfer(t, 8)
	tx, err := f.ledger.Get(ctx, txHash)
	require.NoError(t, err)
	require.Equal(t, []string{domain.LogKey(txHash, 5), domain.LogKey(txHash, 8)}, tx.OwnershipTransfers)

	again, err := f.matcher.MatchEvent(ctx, ordersMatched(6, 1))
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Contains(t, f.logs.String(), "completing interrupted consumption")

	second, err := f.matcher.MatchEvent(ctx, ordersMatched(9, 1))
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, domain.LogKey(txHash, 8), second.Transfer)
}

func TestMatchEvent_ConsumedTransferNotRequeued(t *testing.T) {
	f := newFixture(fakeERC20{})
	ctx := context.Background()

	f.transfer(t, 5)
	sale, err := f.matcher.MatchEvent(ctx, ordersMatched(6, 1))
	require.NoError(t, err)
	require.NotNil(t, sale)

	f.transfer(t, 5)
	tx, err := f.ledger.Get(ctx, txHash)
	require.NoError(t, err)
	assert.Empty(t, tx.OwnershipTransfers)

	consumed, err := f.entities.ConsumedLogs.Get(ctx, domain.LogKey(txHash, 5))
	require.NoError(t, err)
	assert.Equal(t, sale.ID, consumed.Sale)
}

func TestMatchEvent_ZeroPrice(t *testing.T) {
	f := newFixture(fakeERC20{})

	f.transfer(t, 5)
	sale, err := f.matcher.MatchEvent(context.Background(), ordersMatched(6, 0))
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Equal(t, "0", sale.USDPrice.String())
	assert.Zero(t, f.router.calls)
}

func TestMatchEvent_UnpricedSaleCommitted(t *testing.T) {
	f := newFixture(fakeERC20{})

	f.payment(t, 4, ape)
	f.transfer(t, 5)
	sale, err := f.matcher.MatchEvent(context.Background(), ordersMatched(6, 10))
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Nil(t, sale.USDPrice)
	assert.False(t, sale.PriceResolved())
	assert.Contains(t, f.logs.String(), "price not normalized")
}

func TestMatchEvent_TokenRevertAbortsMatch(t *testing.T) {
	f := newFixture(fakeERC20{revert: true})
	ctx := context.Background()

	f.payment(t, 4, ape)
	f.transfer(t, 5)
	sale, err := f.matcher.MatchEvent(ctx, ordersMatched(6, 10))
	require.NoError(t, err)
	assert.Nil(t, sale)

	tx, err := f.ledger.Get(ctx, txHash)
	require.NoError(t, err)
	assert.Len(t, tx.OwnershipTransfers, 1)
	assert.Len(t, tx.PaymentTransfers, 1)

	exists, err := f.entities.PaymentTokens.Exists(ctx, domain.AddressKey(ape))
	require.NoError(t, err)
	assert.False(t, exists)
}

func settlementCall(token common.Address) domain.SettlementCall {
	addrs := make([]common.Address, 14)
	addrs[domain.PaymentTokenOffset] = token
	return domain.SettlementCall{TxHash: txHash, Exchange: exchange, Addresses: addrs}
}

func TestMatchCall(t *testing.T) {
	f := newFixture(fakeERC20{})
	ctx := context.Background()

	f.transfer(t, 5)
	require.NoError(t, f.ingest.HandleOrdersMatched(ctx, ordersMatched(6, 3)))

	sale, err := f.matcher.MatchCall(ctx, settlementCall(weth))
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Equal(t, domain.LogKey(txHash, 6), sale.ID)
	assert.Equal(t, domain.AddressKey(weth), sale.PaymentToken)
	assert.Equal(t, "6000", sale.USDPrice.String())

	exists, err := f.entities.OrderMatches.Exists(ctx, sale.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	tx, err := f.ledger.Get(ctx, txHash)
	require.NoError(t, err)
	assert.Empty(t, tx.OrderMatches)
	assert.Empty(t, tx.OwnershipTransfers)

	again, err := f.matcher.MatchCall(ctx, settlementCall(weth))
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestMatchCall_Aborts(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture)
		call    domain.SettlementCall
		wantLog string
	}{
		{
			name:    "unknown transaction",
			setup:   func(*testing.T, *fixture) {},
			call:    settlementCall(weth),
			wantLog: "no pending logs for transaction",
		},
		{
			name:    "no order match queued",
			setup:   func(t *testing.T, f *fixture) { f.transfer(t, 5) },
			call:    settlementCall(weth),
			wantLog: "no pending order match",
		},
		{
			name: "short call input",
			setup: func(t *testing.T, f *fixture) {
				f.transfer(t, 5)
				require.NoError(t, f.ingest.HandleOrdersMatched(context.Background(), ordersMatched(6, 3)))
			},
			call:    domain.SettlementCall{TxHash: txHash, Addresses: make([]common.Address, 3)},
			wantLog: "call input carries no payment token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(fakeERC20{})
			tt.setup(t, f)

			sale, err := f.matcher.MatchCall(context.Background(), tt.call)
			require.NoError(t, err)
			assert.Nil(t, sale)
			assert.Contains(t, f.logs.String(), tt.wantLog)
		})
	}
}
