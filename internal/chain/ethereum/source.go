package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const maxCachedBlockTimes = 4096

// Source reads settlement logs, receipts and call input from an RPC node.
type Source struct {
	client *ethclient.Client

	mu    sync.Mutex
	times map[uint64]uint64
}

// Dial connects to the node at url and checks that it serves chainID.
func Dial(ctx context.Context, url string, chainID int64) (*Source, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("ethereum: dial: %w", err)
	}
	got, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ethereum: chain id: %w", err)
	}
	if chainID != 0 && got.Int64() != chainID {
		client.Close()
		return nil, fmt.Errorf("ethereum: node serves chain %s, want %d", got, chainID)
	}
	return &Source{client: client, times: make(map[uint64]uint64)}, nil
}

// Client returns the underlying RPC client, which also serves contract calls.
func (s *Source) Client() *ethclient.Client {
	return s.client
}

// Close closes the RPC connection.
func (s *Source) Close() {
	s.client.Close()
}

// Head returns the latest block number.
func (s *Source) Head(ctx context.Context) (uint64, error) {
	n, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("ethereum: block number: %w", err)
	}
	return n, nil
}

// SettlementLogs returns the exchange's OrdersMatched logs in [from, to].
func (s *Source) SettlementLogs(ctx context.Context, exchange common.Address, from, to uint64) ([]types.Log, error) {
	logs, err := s.client.FilterLogs(ctx, goethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{exchange},
		Topics:    [][]common.Hash{{SettlementTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("ethereum: filter logs %d-%d: %w", from, to, err)
	}
	return logs, nil
}

// ReceiptLogs returns every log emitted by the transaction, in log order.
func (s *Source) ReceiptLogs(ctx context.Context, txHash common.Hash) ([]types.Log, error) {
	receipt, err := s.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("ethereum: receipt %s: %w", txHash.Hex(), err)
	}
	logs := make([]types.Log, 0, len(receipt.Logs))
	for _, lg := range receipt.Logs {
		logs = append(logs, *lg)
	}
	return logs, nil
}

// CallInput returns the recipient and input data of the transaction.
func (s *Source) CallInput(ctx context.Context, txHash common.Hash) (common.Address, []byte, error) {
	tx, _, err := s.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("ethereum: transaction %s: %w", txHash.Hex(), err)
	}
	var to common.Address
	if tx.To() != nil {
		to = *tx.To()
	}
	return to, tx.Data(), nil
}

// BlockTime returns the timestamp of block number.
func (s *Source) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	s.mu.Lock()
	ts, ok := s.times[number]
	s.mu.Unlock()
	if ok {
		return ts, nil
	}

	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("ethereum: header %d: %w", number, err)
	}

	s.mu.Lock()
	if len(s.times) >= maxCachedBlockTimes {
		clear(s.times)
	}
	s.times[number] = header.Time
	s.mu.Unlock()
	return header.Time, nil
}
