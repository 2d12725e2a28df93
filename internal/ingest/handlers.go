// Package ingest records decoded logs as pending entities on their
// transaction's queues.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/ledger"
	"github.com/KowsarAtz/nfts-price/internal/store"
)

var zeroAddress = common.Address{}

// Handlers stores ownership transfers, payment transfers and order matches.
// Every handler is idempotent: a log that is already stored, or that a Sale
// has already consumed, is ignored.
type Handlers struct {
	entities *store.Entities
	ledger   *ledger.Ledger
	logger   *slog.Logger
}

// New creates Handlers.
func New(entities *store.Entities, l *ledger.Ledger, logger *slog.Logger) *Handlers {
	return &Handlers{
		entities: entities,
		ledger:   l,
		logger:   logger.With(slog.String("component", "ingest")),
	}
}

// HandleTransfer records an ERC-721 transfer. Mints and burns are skipped.
func (h *Handlers) HandleTransfer(ctx context.Context, ev domain.TransferEvent) error {
	id := domain.LogKey(ev.TxHash, ev.LogIndex)

	seen, err := h.seen(ctx, "transfer", id, h.entities.OwnershipTransfers.Exists)
	if err != nil || seen {
		return err
	}
	if ev.From == zeroAddress {
		h.logger.DebugContext(ctx, "transfer ignored: mint", slog.String("id", id))
		return nil
	}
	if ev.To == zeroAddress {
		h.logger.DebugContext(ctx, "transfer ignored: burn", slog.String("id", id))
		return nil
	}

	rec := &domain.OwnershipTransfer{
		ID:          id,
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		BlockNumber: ev.BlockNumber,
		Timestamp:   ev.Timestamp,
		Collection:  ev.Address,
		From:        ev.From,
		To:          ev.To,
		TokenID:     ev.TokenID,
	}
	if err := record(ctx, h.ledger, h.entities.OwnershipTransfers, domain.QueueOwnershipTransfer, ev.TxHash, id, rec); err != nil {
		return fmt.Errorf("ingest: transfer %s: %w", id, err)
	}

	h.logger.InfoContext(ctx, "transfer stored", slog.String("id", id))
	return nil
}

// HandlePaymentTransfer records an ERC-20 transfer.
func (h *Handlers) HandlePaymentTransfer(ctx context.Context, ev domain.PaymentTransferEvent) error {
	id := domain.LogKey(ev.TxHash, ev.LogIndex)

	seen, err := h.seen(ctx, "payment transfer", id, h.entities.PaymentTransfers.Exists)
	if err != nil || seen {
		return err
	}

	rec := &domain.PaymentTransfer{
		ID:          id,
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		BlockNumber: ev.BlockNumber,
		Timestamp:   ev.Timestamp,
		Token:       ev.Address,
		From:        ev.From,
		To:          ev.To,
		Amount:      ev.Value,
	}
	if err := record(ctx, h.ledger, h.entities.PaymentTransfers, domain.QueuePaymentTransfer, ev.TxHash, id, rec); err != nil {
		return fmt.Errorf("ingest: payment transfer %s: %w", id, err)
	}

	h.logger.DebugContext(ctx, "payment transfer stored", slog.String("id", id))
	return nil
}

// HandleOrdersMatched records an order match for a settlement that will be
// completed by a later SettlementCall.
func (h *Handlers) HandleOrdersMatched(ctx context.Context, ev domain.OrdersMatchedEvent) error {
	id := domain.LogKey(ev.TxHash, ev.LogIndex)

	seen, err := h.seen(ctx, "order match", id, h.entities.OrderMatches.Exists)
	if err != nil || seen {
		return err
	}

	rec := domain.NewOrderMatch(ev)
	if err := record(ctx, h.ledger, h.entities.OrderMatches, domain.QueueOrderMatch, ev.TxHash, id, rec); err != nil {
		return fmt.Errorf("ingest: order match %s: %w", id, err)
	}

	h.logger.DebugContext(ctx, "order match stored", slog.String("id", id))
	return nil
}

// seen reports whether the log id is pending or was consumed by a Sale, and
// logs the duplicate.
func (h *Handlers) seen(ctx context.Context, what, id string, pending func(context.Context, string) (bool, error)) (bool, error) {
	exists, err := pending(ctx, id)
	if err != nil {
		return false, fmt.Errorf("ingest: %s %s: %w", what, id, err)
	}
	if exists {
		h.logger.WarnContext(ctx, what+" already exists", slog.String("id", id))
		return true, nil
	}

	consumed, err := h.entities.ConsumedLogs.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ingest: %s %s: %w", what, id, err)
	}
	h.logger.WarnContext(ctx, what+" already consumed",
		slog.String("id", id),
		slog.String("sale", consumed.Sale),
	)
	return true, nil
}

// record stores rec and queues it on its transaction. The entity is removed
// again when the queue write fails, so a redelivery can store it afresh.
func record[T any](ctx context.Context, l *ledger.Ledger, repo *store.Repo[T], q domain.Queue, txHash common.Hash, id string, rec *T) error {
	if err := repo.Put(ctx, id, rec); err != nil {
		return err
	}
	if err := l.Enqueue(ctx, q, txHash, id); err != nil {
		if delErr := repo.Delete(ctx, id); delErr != nil {
			return errors.Join(err, delErr)
		}
		return err
	}
	return nil
}
