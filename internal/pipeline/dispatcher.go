package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/ingest"
	"github.com/KowsarAtz/nfts-price/internal/matcher"
)

// SettlementSource selects how settlements are detected.
type SettlementSource string

const (
	// SettleOnEvent treats each OrdersMatched event as the settlement.
	SettleOnEvent SettlementSource = "event"
	// SettleOnCall queues OrdersMatched events and settles on the decoded
	// atomicMatch_ input of the transaction.
	SettleOnCall SettlementSource = "call"
)

// Decoder turns raw chain data into domain events.
type Decoder interface {
	Decode(lg types.Log, timestamp uint64) (domain.Event, error)
	DecodeCall(txHash common.Hash, blockNumber, timestamp uint64, to common.Address, input []byte) (domain.SettlementCall, error)
}

// Stats counts dispatcher activity since start.
type Stats struct {
	Events  int64 `json:"events"`
	Sales   int64 `json:"sales"`
	Skipped int64 `json:"skipped"`
}

// Dispatcher routes decoded logs to the ingestion handlers and the matcher,
// one at a time, and hands committed sales to the sinks. A failing handler
// or sink is logged and the next event is processed.
type Dispatcher struct {
	handlers *ingest.Handlers
	matcher  *matcher.Matcher
	decoder  Decoder
	source   SettlementSource
	sinks    []domain.SaleSink
	logger   *slog.Logger

	events  atomic.Int64
	sales   atomic.Int64
	skipped atomic.Int64
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	handlers *ingest.Handlers,
	m *matcher.Matcher,
	decoder Decoder,
	source SettlementSource,
	sinks []domain.SaleSink,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		handlers: handlers,
		matcher:  m,
		decoder:  decoder,
		source:   source,
		sinks:    sinks,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Events:  d.events.Load(),
		Sales:   d.sales.Load(),
		Skipped: d.skipped.Load(),
	}
}

// Dispatch processes one decoded log. It only fails when ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta := ev.Meta()
	ctx = domain.WithBlockNumber(ctx, meta.BlockNumber)
	d.events.Add(1)

	var err error
	switch e := ev.(type) {
	case domain.TransferEvent:
		err = d.handlers.HandleTransfer(ctx, e)
	case domain.PaymentTransferEvent:
		err = d.handlers.HandlePaymentTransfer(ctx, e)
	case domain.OrdersMatchedEvent:
		if d.source == SettleOnCall {
			err = d.handlers.HandleOrdersMatched(ctx, e)
			break
		}
		var sale *domain.Sale
		sale, err = d.matcher.MatchEvent(ctx, e)
		if err == nil && sale != nil {
			d.commit(ctx, *sale)
		}
	default:
		d.logger.DebugContext(ctx, "unhandled event", slog.String("id", domain.LogKey(meta.TxHash, meta.LogIndex)))
		return nil
	}

	if err != nil {
		d.skipped.Add(1)
		d.logger.ErrorContext(ctx, "event skipped",
			slog.String("id", domain.LogKey(meta.TxHash, meta.LogIndex)),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// DispatchCall processes a settlement detected from call input. It only
// fails when ctx is done.
func (d *Dispatcher) DispatchCall(ctx context.Context, call domain.SettlementCall) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = domain.WithBlockNumber(ctx, call.BlockNumber)

	sale, err := d.matcher.MatchCall(ctx, call)
	if err != nil {
		d.skipped.Add(1)
		d.logger.ErrorContext(ctx, "settlement call skipped",
			slog.String("tx", domain.TxKey(call.TxHash)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if sale != nil {
		d.commit(ctx, *sale)
	}
	return nil
}

// DispatchTransaction decodes and dispatches every log of tx in order, then,
// when settling on calls, the transaction's exchange call.
func (d *Dispatcher) DispatchTransaction(ctx context.Context, tx TxLogs) error {
	for _, lg := range tx.Logs {
		ev, err := d.decoder.Decode(lg, tx.Timestamp)
		if errors.Is(err, domain.ErrUnknownEvent) {
			continue
		}
		if err != nil {
			d.skipped.Add(1)
			d.logger.WarnContext(ctx, "undecodable log skipped",
				slog.String("id", domain.LogKey(lg.TxHash, lg.Index)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := d.Dispatch(ctx, ev); err != nil {
			return err
		}
	}

	if d.source != SettleOnCall {
		return nil
	}
	call, err := d.decoder.DecodeCall(tx.Hash, tx.BlockNumber, tx.Timestamp, tx.To, tx.Input)
	if errors.Is(err, domain.ErrUnknownEvent) {
		d.logger.DebugContext(ctx, "transaction is not a direct settlement call", slog.String("tx", domain.TxKey(tx.Hash)))
		return nil
	}
	if err != nil {
		d.skipped.Add(1)
		d.logger.WarnContext(ctx, "undecodable settlement call skipped",
			slog.String("tx", domain.TxKey(tx.Hash)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return d.DispatchCall(ctx, call)
}

// DispatchBatch dispatches every transaction of batch and flushes the sinks.
func (d *Dispatcher) DispatchBatch(ctx context.Context, batch LogBatch) error {
	for _, tx := range batch.Transactions {
		if err := d.DispatchTransaction(ctx, tx); err != nil {
			return err
		}
	}
	d.Flush(ctx)
	return nil
}

// Flush flushes every buffering sink.
func (d *Dispatcher) Flush(ctx context.Context) {
	for _, sink := range d.sinks {
		f, ok := sink.(domain.Flusher)
		if !ok {
			continue
		}
		if err := f.Flush(ctx); err != nil {
			d.logger.ErrorContext(ctx, "sink flush failed", slog.String("error", err.Error()))
		}
	}
}

func (d *Dispatcher) commit(ctx context.Context, sale domain.Sale) {
	d.sales.Add(1)
	for _, sink := range d.sinks {
		if err := sink.SaleCommitted(ctx, sale); err != nil {
			d.logger.ErrorContext(ctx, "sale sink failed",
				slog.String("sale", sale.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
