package ethereum

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

var (
	exchange   = common.HexToAddress("0x7Be8076f4EA4A4AD08075C2508e481d6C946D12b")
	collection = common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")
	weth       = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	seller     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer      = common.HexToAddress("0x2222222222222222222222222222222222222222")
	txHash     = common.HexToHash("0xabcdef")
)

func TestDecode_ERC721Transfer(t *testing.T) {
	lg := types.Log{
		Address: collection,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(seller.Bytes()),
			common.BytesToHash(buyer.Bytes()),
			common.BigToHash(big.NewInt(42)),
		},
		BlockNumber: 100,
		TxHash:      txHash,
		Index:       5,
	}

	ev, err := NewDecoder(exchange).Decode(lg, 1_600_000_000)
	require.NoError(t, err)

	transfer, ok := ev.(domain.TransferEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, seller, transfer.From)
	assert.Equal(t, buyer, transfer.To)
	assert.Equal(t, "42", transfer.TokenID.String())
	assert.Equal(t, collection, transfer.Address)
	assert.Equal(t, uint(5), transfer.LogIndex)
	assert.Equal(t, uint64(1_600_000_000), transfer.Timestamp)
}

func TestDecode_ERC20Transfer(t *testing.T) {
	data, err := erc20ABI.Events["Transfer"].Inputs.NonIndexed().Pack(big.NewInt(1_000_000))
	require.NoError(t, err)

	lg := types.Log{
		Address: weth,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(buyer.Bytes()),
			common.BytesToHash(seller.Bytes()),
		},
		Data:   data,
		TxHash: txHash,
		Index:  3,
	}

	ev, err := NewDecoder(exchange).Decode(lg, 0)
	require.NoError(t, err)

	payment, ok := ev.(domain.PaymentTransferEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, weth, payment.Address)
	assert.Equal(t, buyer, payment.From)
	assert.Equal(t, "1000000", payment.Value.String())
}

func TestDecode_OrdersMatched(t *testing.T) {
	buyHash := common.HexToHash("0xb1")
	sellHash := common.HexToHash("0x51")
	data, err := exchangeABI.Events["OrdersMatched"].Inputs.NonIndexed().Pack(
		[32]byte(buyHash), [32]byte(sellHash), big.NewInt(7),
	)
	require.NoError(t, err)

	metadata := common.HexToHash("0xfeed")
	lg := types.Log{
		Address: exchange,
		Topics: []common.Hash{
			ordersMatchedTopic,
			common.BytesToHash(seller.Bytes()),
			common.BytesToHash(buyer.Bytes()),
			metadata,
		},
		Data:   data,
		TxHash: txHash,
		Index:  6,
	}

	ev, err := NewDecoder(exchange).Decode(lg, 0)
	require.NoError(t, err)

	om, ok := ev.(domain.OrdersMatchedEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, buyHash, om.BuyHash)
	assert.Equal(t, sellHash, om.SellHash)
	assert.Equal(t, seller, om.Maker)
	assert.Equal(t, buyer, om.Taker)
	assert.Equal(t, "7", om.Price.String())
	assert.Equal(t, metadata.Bytes(), []byte(om.Metadata))

	// The same log from another contract is not a settlement.
	lg.Address = collection
	_, err = NewDecoder(exchange).Decode(lg, 0)
	assert.True(t, errors.Is(err, domain.ErrUnknownEvent))
}

func TestDecode_Unknown(t *testing.T) {
	tests := []struct {
		name string
		lg   types.Log
	}{
		{name: "no topics", lg: types.Log{}},
		{name: "other event", lg: types.Log{Topics: []common.Hash{common.HexToHash("0x01")}}},
		{name: "transfer with two topics", lg: types.Log{Topics: []common.Hash{transferTopic, {}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(exchange).Decode(tt.lg, 0)
			assert.ErrorIs(t, err, domain.ErrUnknownEvent)
		})
	}
}

func TestDecodeCall(t *testing.T) {
	var addrs [14]common.Address
	addrs[0] = exchange
	addrs[domain.PaymentTokenOffset] = weth
	var uints [18]*big.Int
	for i := range uints {
		uints[i] = big.NewInt(int64(i))
	}

	input, err := exchangeABI.Pack("atomicMatch_",
		addrs, uints, [8]uint8{}, []byte{}, []byte{}, []byte{}, []byte{}, []byte{}, []byte{},
		[2]uint8{27, 28}, [5][32]byte{},
	)
	require.NoError(t, err)

	d := NewDecoder(exchange)
	call, err := d.DecodeCall(txHash, 100, 200, exchange, input)
	require.NoError(t, err)
	assert.Len(t, call.Addresses, 14)
	token, ok := call.PaymentToken()
	require.True(t, ok)
	assert.Equal(t, weth, token)
	assert.Equal(t, uint64(100), call.BlockNumber)

	_, err = d.DecodeCall(txHash, 100, 200, collection, input)
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)

	_, err = d.DecodeCall(txHash, 100, 200, exchange, []byte{0x01, 0x02})
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)
}
