package ethereum

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

// SettlementTopic is topic0 of the exchange's OrdersMatched event.
var SettlementTopic = ordersMatchedTopic

// Decoder turns raw logs and exchange call input into domain events.
type Decoder struct {
	exchange common.Address
}

// NewDecoder creates a Decoder that accepts OrdersMatched only from exchange.
func NewDecoder(exchange common.Address) *Decoder {
	return &Decoder{exchange: exchange}
}

// Decode decodes lg. ERC-721 and ERC-20 transfers share a signature and are
// told apart by whether the third parameter is indexed. Logs of any other
// kind return domain.ErrUnknownEvent.
func (d *Decoder) Decode(lg types.Log, timestamp uint64) (domain.Event, error) {
	if len(lg.Topics) == 0 {
		return nil, domain.ErrUnknownEvent
	}
	meta := domain.LogMeta{
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
		Timestamp:   timestamp,
		Address:     lg.Address,
	}

	switch lg.Topics[0] {
	case transferTopic:
		switch len(lg.Topics) {
		case 4:
			return domain.TransferEvent{
				LogMeta: meta,
				From:    common.BytesToAddress(lg.Topics[1].Bytes()),
				To:      common.BytesToAddress(lg.Topics[2].Bytes()),
				TokenID: new(big.Int).SetBytes(lg.Topics[3].Bytes()),
			}, nil
		case 3:
			values, err := erc20ABI.Unpack("Transfer", lg.Data)
			if err != nil {
				return nil, fmt.Errorf("ethereum: decode erc20 transfer %s: %w", logID(lg), err)
			}
			return domain.PaymentTransferEvent{
				LogMeta: meta,
				From:    common.BytesToAddress(lg.Topics[1].Bytes()),
				To:      common.BytesToAddress(lg.Topics[2].Bytes()),
				Value:   values[0].(*big.Int),
			}, nil
		}

	case ordersMatchedTopic:
		if lg.Address != d.exchange || len(lg.Topics) != 4 {
			break
		}
		values, err := exchangeABI.Unpack("OrdersMatched", lg.Data)
		if err != nil {
			return nil, fmt.Errorf("ethereum: decode orders matched %s: %w", logID(lg), err)
		}
		buyHash := values[0].([32]byte)
		sellHash := values[1].([32]byte)
		return domain.OrdersMatchedEvent{
			LogMeta:  meta,
			BuyHash:  common.Hash(buyHash),
			SellHash: common.Hash(sellHash),
			Maker:    common.BytesToAddress(lg.Topics[1].Bytes()),
			Taker:    common.BytesToAddress(lg.Topics[2].Bytes()),
			Price:    values[2].(*big.Int),
			Metadata: hexutil.Bytes(lg.Topics[3].Bytes()),
		}, nil
	}

	return nil, domain.ErrUnknownEvent
}

// DecodeCall decodes the input of an atomicMatch_ call to the exchange. It
// returns domain.ErrUnknownEvent when the call is not a settlement.
func (d *Decoder) DecodeCall(txHash common.Hash, blockNumber, timestamp uint64, to common.Address, input []byte) (domain.SettlementCall, error) {
	if to != d.exchange || len(input) < 4 || !bytes.Equal(input[:4], atomicMatchMethod.ID) {
		return domain.SettlementCall{}, domain.ErrUnknownEvent
	}

	values, err := atomicMatchMethod.Inputs.Unpack(input[4:])
	if err != nil {
		return domain.SettlementCall{}, fmt.Errorf("ethereum: decode atomicMatch_ %s: %w", txHash.Hex(), err)
	}
	addrs, ok := values[0].([14]common.Address)
	if !ok {
		return domain.SettlementCall{}, fmt.Errorf("ethereum: decode atomicMatch_ %s: unexpected addrs type %T", txHash.Hex(), values[0])
	}

	return domain.SettlementCall{
		TxHash:      txHash,
		BlockNumber: blockNumber,
		Timestamp:   timestamp,
		Exchange:    to,
		Addresses:   addrs[:],
	}, nil
}

func logID(lg types.Log) string {
	return domain.LogKey(lg.TxHash, lg.Index)
}
