package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/store"
)

// ChainSource reads settlement transactions from the chain.
type ChainSource interface {
	Head(ctx context.Context) (uint64, error)
	SettlementLogs(ctx context.Context, exchange common.Address, from, to uint64) ([]types.Log, error)
	ReceiptLogs(ctx context.Context, txHash common.Hash) ([]types.Log, error)
	CallInput(ctx context.Context, txHash common.Hash) (common.Address, []byte, error)
	BlockTime(ctx context.Context, number uint64) (uint64, error)
}

// IndexerConfig controls the indexer loop.
type IndexerConfig struct {
	Name          string
	Exchange      common.Address
	StartBlock    uint64
	Confirmations uint64
	BatchSize     uint64
	PollInterval  time.Duration
	LockTTL       time.Duration
	// FetchCallInput adds each transaction's input to the batch.
	FetchCallInput bool
}

// Indexer walks the chain in block batches, dispatching every log of each
// transaction that emitted a settlement, and records its progress in a
// Checkpoint.
type Indexer struct {
	cfg         IndexerConfig
	source      ChainSource
	dispatcher  *Dispatcher
	archive     *BatchArchive
	checkpoints *store.Repo[domain.Checkpoint]
	lock        domain.Lock
	logger      *slog.Logger
}

// NewIndexer creates an Indexer. archive and lock may be nil.
func NewIndexer(
	cfg IndexerConfig,
	source ChainSource,
	dispatcher *Dispatcher,
	archive *BatchArchive,
	checkpoints *store.Repo[domain.Checkpoint],
	lock domain.Lock,
	logger *slog.Logger,
) *Indexer {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Second
	}
	runLogger := logger.With(
		slog.String("component", "indexer"),
		slog.String("indexer", cfg.Name),
		slog.String("run_id", uuid.NewString()),
	)
	return &Indexer{
		cfg:         cfg,
		source:      source,
		dispatcher:  dispatcher,
		archive:     archive,
		checkpoints: checkpoints,
		lock:        lock,
		logger:      runLogger,
	}
}

// NextBlock returns the first block not yet processed.
func (ix *Indexer) NextBlock(ctx context.Context) (uint64, error) {
	cp, err := ix.checkpoints.Get(ctx, ix.cfg.Name)
	if errors.Is(err, domain.ErrNotFound) {
		return ix.cfg.StartBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("pipeline: load checkpoint: %w", err)
	}
	return max(cp.Block+1, ix.cfg.StartBlock), nil
}

// Run indexes until ctx is cancelled. Transient chain errors are logged and
// retried on the next tick.
func (ix *Indexer) Run(ctx context.Context) error {
	next, err := ix.NextBlock(ctx)
	if err != nil {
		return err
	}
	ix.logger.Info("indexer starting",
		slog.Uint64("from_block", next),
		slog.String("exchange", ix.cfg.Exchange.Hex()),
		slog.Uint64("batch_size", ix.cfg.BatchSize),
	)

	ticker := time.NewTicker(ix.cfg.PollInterval)
	defer ticker.Stop()

	for {
		caughtUp, err := ix.step(ctx, &next)
		if err != nil {
			if ctx.Err() != nil {
				ix.logger.Info("indexer stopped", slog.Uint64("next_block", next))
				return ctx.Err()
			}
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("pipeline: indexer lock lost: %w", err)
			}
			ix.logger.Error("indexer step failed", slog.String("error", err.Error()))
			caughtUp = true
		}
		if !caughtUp {
			continue
		}

		select {
		case <-ctx.Done():
			ix.logger.Info("indexer stopped", slog.Uint64("next_block", next))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// step processes at most one batch starting at *next. It reports whether the
// indexer has reached the confirmed head.
func (ix *Indexer) step(ctx context.Context, next *uint64) (bool, error) {
	if ix.lock != nil {
		if err := ix.lock.Refresh(ctx, ix.cfg.LockTTL); err != nil {
			return false, err
		}
	}

	head, err := ix.source.Head(ctx)
	if err != nil {
		return false, err
	}
	if head < ix.cfg.Confirmations || head-ix.cfg.Confirmations < *next {
		return true, nil
	}
	target := head - ix.cfg.Confirmations

	to := min(*next+ix.cfg.BatchSize-1, target)
	if err := ix.IndexRange(ctx, *next, to); err != nil {
		return false, err
	}
	*next = to + 1
	return to == target, nil
}

// IndexRange fetches, archives and dispatches blocks [from, to], then saves
// the checkpoint.
func (ix *Indexer) IndexRange(ctx context.Context, from, to uint64) error {
	start := time.Now()

	batch, err := ix.FetchBatch(ctx, from, to)
	if err != nil {
		return err
	}
	if ix.archive != nil {
		if err := ix.archive.Put(ctx, batch); err != nil {
			return err
		}
	}

	before := ix.dispatcher.Stats()
	if err := ix.dispatcher.DispatchBatch(ctx, batch); err != nil {
		return err
	}
	after := ix.dispatcher.Stats()

	cp := &domain.Checkpoint{ID: ix.cfg.Name, Block: to, UpdatedAt: time.Now().Unix()}
	if err := ix.checkpoints.Put(ctx, cp.ID, cp); err != nil {
		return fmt.Errorf("pipeline: save checkpoint: %w", err)
	}

	ix.logger.Info("batch indexed",
		slog.Uint64("from_block", from),
		slog.Uint64("to_block", to),
		slog.Int("transactions", len(batch.Transactions)),
		slog.Int64("sales", after.Sales-before.Sales),
		slog.Int64("skipped", after.Skipped-before.Skipped),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// FetchBatch collects every transaction in [from, to] that emitted a
// settlement, with all of its logs.
func (ix *Indexer) FetchBatch(ctx context.Context, from, to uint64) (LogBatch, error) {
	settlements, err := ix.source.SettlementLogs(ctx, ix.cfg.Exchange, from, to)
	if err != nil {
		return LogBatch{}, err
	}

	batch := LogBatch{FromBlock: from, ToBlock: to, Transactions: []TxLogs{}}
	seen := make(map[common.Hash]struct{}, len(settlements))
	for _, lg := range settlements {
		if lg.Removed {
			continue
		}
		if _, ok := seen[lg.TxHash]; ok {
			continue
		}
		seen[lg.TxHash] = struct{}{}

		tx, err := ix.fetchTx(ctx, lg)
		if err != nil {
			return LogBatch{}, err
		}
		batch.Transactions = append(batch.Transactions, tx)
	}
	return batch, nil
}

func (ix *Indexer) fetchTx(ctx context.Context, settlement types.Log) (TxLogs, error) {
	tx := TxLogs{
		Hash:        settlement.TxHash,
		BlockNumber: settlement.BlockNumber,
		TxIndex:     settlement.TxIndex,
	}

	ts, err := ix.source.BlockTime(ctx, settlement.BlockNumber)
	if err != nil {
		return TxLogs{}, err
	}
	tx.Timestamp = ts

	logs, err := ix.source.ReceiptLogs(ctx, settlement.TxHash)
	if err != nil {
		return TxLogs{}, err
	}
	tx.Logs = logs

	if ix.cfg.FetchCallInput {
		to, input, err := ix.source.CallInput(ctx, settlement.TxHash)
		if err != nil {
			return TxLogs{}, err
		}
		tx.To = to
		tx.Input = input
	}
	return tx, nil
}
