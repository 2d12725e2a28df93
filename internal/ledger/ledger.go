// Package ledger keeps the per-transaction queues of logs that have been
// recorded but not yet consumed by a match.
//
// A Transaction is always written whole. Every mutation reads the current
// record, builds fresh queue slices and writes the result back; a slice
// obtained from an earlier read is never modified.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/store"
)

// Ledger reads and writes Transaction records.
type Ledger struct {
	txs *store.Repo[domain.Transaction]
}

// New creates a Ledger over the given repository.
func New(txs *store.Repo[domain.Transaction]) *Ledger {
	return &Ledger{txs: txs}
}

// Get returns the transaction record or domain.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, txHash common.Hash) (*domain.Transaction, error) {
	tx, err := l.txs.Get(ctx, domain.TxKey(txHash))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("ledger: get %s: %w", txHash.Hex(), err)
	}
	return tx, nil
}

// GetOrCreate returns the transaction record, or an empty unsaved one when
// none exists yet.
func (l *Ledger) GetOrCreate(ctx context.Context, txHash common.Hash) (*domain.Transaction, error) {
	tx, err := l.Get(ctx, txHash)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return &domain.Transaction{
		ID:                 domain.TxKey(txHash),
		OwnershipTransfers: []string{},
		PaymentTransfers:   []string{},
		OrderMatches:       []string{},
	}, nil
}

// Enqueue appends ref to queue q of the transaction and saves the record.
func (l *Ledger) Enqueue(ctx context.Context, q domain.Queue, txHash common.Hash, ref string) error {
	tx, err := l.GetOrCreate(ctx, txHash)
	if err != nil {
		return err
	}

	current := tx.Pending(q)
	next := make([]string, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, ref)
	tx.SetPending(q, next)

	return l.save(ctx, tx)
}

// Consume drops the first n entries of each queue named in counts and saves
// the record. A count larger than the queue empties it.
func (l *Ledger) Consume(ctx context.Context, tx *domain.Transaction, counts map[domain.Queue]int) error {
	next := *tx
	for q, n := range counts {
		refs := tx.Pending(q)
		if n > len(refs) {
			n = len(refs)
		}
		next.SetPending(q, refs[n:])
	}
	if err := l.save(ctx, &next); err != nil {
		return err
	}
	*tx = next
	return nil
}

func (l *Ledger) save(ctx context.Context, tx *domain.Transaction) error {
	if err := l.txs.Put(ctx, tx.ID, tx); err != nil {
		return fmt.Errorf("ledger: save %s: %w", tx.ID, err)
	}
	return nil
}
