package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// PaymentTokenOffset is the position of the buy order's payment token in the
// address array of a Wyvern atomicMatch_ call.
const PaymentTokenOffset = 6

// LogMeta carries the fields every decoded log shares.
type LogMeta struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	Timestamp   uint64
	Address     common.Address
}

// Event is a decoded log ready for dispatch.
type Event interface {
	Meta() LogMeta
}

// TransferEvent is an ERC-721 Transfer(from, to, tokenId).
type TransferEvent struct {
	LogMeta
	From    common.Address
	To      common.Address
	TokenID *big.Int
}

// PaymentTransferEvent is an ERC-20 Transfer(from, to, value).
type PaymentTransferEvent struct {
	LogMeta
	From  common.Address
	To    common.Address
	Value *big.Int
}

// OrdersMatchedEvent is the Wyvern exchange settlement log.
type OrdersMatchedEvent struct {
	LogMeta
	BuyHash  common.Hash
	SellHash common.Hash
	Maker    common.Address
	Taker    common.Address
	Price    *big.Int
	Metadata hexutil.Bytes
}

func (e TransferEvent) Meta() LogMeta        { return e.LogMeta }
func (e PaymentTransferEvent) Meta() LogMeta { return e.LogMeta }
func (e OrdersMatchedEvent) Meta() LogMeta   { return e.LogMeta }

// SettlementCall is a settlement detected by inspecting the input of a call to
// the exchange rather than from its event.
type SettlementCall struct {
	TxHash      common.Hash
	BlockNumber uint64
	Timestamp   uint64
	Exchange    common.Address
	Addresses   []common.Address
}

// PaymentToken returns the payment token encoded in the call input, or false
// when the address array is too short to carry one.
func (c SettlementCall) PaymentToken() (common.Address, bool) {
	if len(c.Addresses) <= PaymentTokenOffset {
		return common.Address{}, false
	}
	return c.Addresses[PaymentTokenOffset], true
}

// NewOrderMatch builds the order-match record for ev.
func NewOrderMatch(ev OrdersMatchedEvent) *OrderMatch {
	return &OrderMatch{
		ID:          LogKey(ev.TxHash, ev.LogIndex),
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		BlockNumber: ev.BlockNumber,
		Timestamp:   ev.Timestamp,
		Exchange:    ev.Address,
		BuyHash:     ev.BuyHash,
		SellHash:    ev.SellHash,
		Maker:       ev.Maker,
		Taker:       ev.Taker,
		Price:       ev.Price,
		Metadata:    ev.Metadata,
	}
}
