// Package matcher correlates a settlement with the pending logs of its
// transaction and commits the resulting Sale.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/ledger"
	"github.com/KowsarAtz/nfts-price/internal/store"
)

// TokenResolver ensures a PaymentToken record exists.
type TokenResolver interface {
	Resolve(ctx context.Context, token common.Address) error
}

// PriceNormalizer converts a raw price into the reference currency.
type PriceNormalizer interface {
	Normalize(ctx context.Context, price *big.Int, token common.Address) (*big.Int, error)
}

// Matcher builds Sales. It is not safe for concurrent use on the same
// transaction.
type Matcher struct {
	entities *store.Entities
	ledger   *ledger.Ledger
	tokens   TokenResolver
	prices   PriceNormalizer
	logger   *slog.Logger
}

// New creates a Matcher.
func New(
	entities *store.Entities,
	l *ledger.Ledger,
	tokens TokenResolver,
	prices PriceNormalizer,
	logger *slog.Logger,
) *Matcher {
	return &Matcher{
		entities: entities,
		ledger:   l,
		tokens:   tokens,
		prices:   prices,
		logger:   logger.With(slog.String("component", "matcher")),
	}
}

// settlement is one match attempt.
type settlement struct {
	tx    *domain.Transaction
	order *domain.OrderMatch
	// queued is set when order is the front of the transaction's order-match
	// queue rather than the dispatched event.
	queued bool
	// token is the payment token taken from call input, if any.
	token *common.Address
}

// MatchEvent handles an OrdersMatched event that is itself the settlement.
// The Sale is keyed by the event. Without a pending payment transfer the sale
// is taken to be paid in the native currency.
//
// It returns nil, nil when the attempt was aborted; every abort is logged
// and leaves the transaction's queues untouched.
func (m *Matcher) MatchEvent(ctx context.Context, ev domain.OrdersMatchedEvent) (*domain.Sale, error) {
	order := domain.NewOrderMatch(ev)
	log := m.logger.With(slog.String("sale", order.ID))

	if done, err := m.settled(ctx, log, order.ID); done || err != nil {
		return nil, err
	}

	tx, err := m.ledger.Get(ctx, ev.TxHash)
	if errors.Is(err, domain.ErrNotFound) {
		log.WarnContext(ctx, "no pending logs for transaction, settlement ignored")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matcher: %s: %w", order.ID, err)
	}

	return m.match(ctx, log, settlement{tx: tx, order: order})
}

// MatchCall handles a settlement detected from exchange call input. The
// order match is the front of the transaction's order-match queue and the
// Sale is keyed by it. The payment token always comes from the call.
func (m *Matcher) MatchCall(ctx context.Context, call domain.SettlementCall) (*domain.Sale, error) {
	log := m.logger.With(slog.String("tx", domain.TxKey(call.TxHash)))

	tx, err := m.ledger.Get(ctx, call.TxHash)
	if errors.Is(err, domain.ErrNotFound) {
		log.WarnContext(ctx, "no pending logs for transaction, settlement ignored")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matcher: %s: %w", domain.TxKey(call.TxHash), err)
	}

	ref, ok := tx.Front(domain.QueueOrderMatch)
	if !ok {
		log.WarnContext(ctx, "no pending order match, settlement ignored")
		return nil, nil
	}
	log = log.With(slog.String("sale", ref))

	if done, err := m.settled(ctx, log, ref); done || err != nil {
		return nil, err
	}

	token, ok := call.PaymentToken()
	if !ok {
		log.WarnContext(ctx, "call input carries no payment token, settlement ignored",
			slog.Int("addresses", len(call.Addresses)),
		)
		return nil, nil
	}

	order, err := m.entities.OrderMatches.Get(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		log.WarnContext(ctx, "queued order match missing, settlement ignored")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matcher: %s: %w", ref, err)
	}

	return m.match(ctx, log, settlement{tx: tx, order: order, queued: true, token: &token})
}

// settled reports whether the Sale id already exists. An existing Sale whose
// logs are still at the front of their queues had its consumption
// interrupted, and that consumption is completed here.
func (m *Matcher) settled(ctx context.Context, log *slog.Logger, id string) (bool, error) {
	sale, err := m.entities.Sales.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("matcher: %s: %w", id, err)
	}
	log.WarnContext(ctx, "sale already exists")
	return true, m.finish(ctx, log, sale)
}

func (m *Matcher) finish(ctx context.Context, log *slog.Logger, sale *domain.Sale) error {
	tx, err := m.ledger.Get(ctx, sale.TxHash)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("matcher: %s: %w", sale.ID, err)
	}
	if front, ok := tx.Front(domain.QueueOwnershipTransfer); !ok || front != sale.Transfer {
		return nil
	}

	c := consumption{transfer: sale.Transfer}
	if sale.PaymentTransfer != nil {
		if ref, ok := tx.Front(domain.QueuePaymentTransfer); ok && ref == *sale.PaymentTransfer {
			c.payment = ref
		}
	}
	if ref, ok := tx.Front(domain.QueueOrderMatch); ok && ref == sale.ID {
		c.order = ref
	}

	log.WarnContext(ctx, "completing interrupted consumption", slog.String("transfer", sale.Transfer))
	return m.consume(ctx, tx, sale.ID, c)
}

func (m *Matcher) match(ctx context.Context, log *slog.Logger, s settlement) (*domain.Sale, error) {
	transferRef, ok := s.tx.Front(domain.QueueOwnershipTransfer)
	if !ok {
		log.WarnContext(ctx, "no pending transfer, settlement ignored")
		return nil, nil
	}
	transfer, err := m.entities.OwnershipTransfers.Get(ctx, transferRef)
	if errors.Is(err, domain.ErrNotFound) {
		log.WarnContext(ctx, "queued transfer missing, settlement ignored", slog.String("transfer", transferRef))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matcher: %s: %w", s.order.ID, err)
	}

	if s.order.LogIndex == 0 || s.order.LogIndex-1 != transfer.LogIndex {
		log.WarnContext(ctx, "transfer not adjacent to order match, settlement ignored",
			slog.String("transfer", transferRef),
			slog.Uint64("transfer_log_index", uint64(transfer.LogIndex)),
			slog.Uint64("order_log_index", uint64(s.order.LogIndex)),
		)
		return nil, nil
	}

	c := consumption{transfer: transferRef}
	if s.queued {
		c.order = s.order.ID
	}

	var payment *domain.PaymentTransfer
	if ref, ok := s.tx.Front(domain.QueuePaymentTransfer); ok {
		c.payment = ref
		payment, err = m.entities.PaymentTransfers.Get(ctx, ref)
		if errors.Is(err, domain.ErrNotFound) {
			log.WarnContext(ctx, "queued payment transfer missing", slog.String("payment_transfer", ref))
			payment = nil
		} else if err != nil {
			return nil, fmt.Errorf("matcher: %s: %w", s.order.ID, err)
		}
	}

	token := domain.NativeToken
	switch {
	case s.token != nil:
		token = *s.token
	case payment != nil:
		token = payment.Token
	}

	if err := m.tokens.Resolve(ctx, token); err != nil {
		if !errors.Is(err, domain.ErrReverted) {
			return nil, fmt.Errorf("matcher: %s: %w", s.order.ID, err)
		}
		log.WarnContext(ctx, "payment token unresolved, settlement ignored",
			slog.String("payment_token", domain.AddressKey(token)),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	usd, err := m.prices.Normalize(ctx, s.order.Price, token)
	if err != nil {
		log.WarnContext(ctx, "price not normalized",
			slog.String("payment_token", domain.AddressKey(token)),
			slog.String("error", err.Error()),
		)
		usd = nil
	}

	sale := &domain.Sale{
		ID:           s.order.ID,
		TxHash:       s.order.TxHash,
		BlockNumber:  s.order.BlockNumber,
		Timestamp:    s.order.Timestamp,
		Collection:   transfer.Collection,
		TokenID:      transfer.TokenID,
		Token:        domain.TokenKey(transfer.Collection, transfer.TokenID),
		Seller:       transfer.From,
		Buyer:        transfer.To,
		Exchange:     s.order.Exchange,
		BuyHash:      s.order.BuyHash,
		SellHash:     s.order.SellHash,
		Metadata:     s.order.Metadata,
		Price:        s.order.Price,
		PaymentToken: domain.AddressKey(token),
		USDPrice:     usd,
		Transfer:     transfer.ID,
	}
	if payment != nil {
		ref := payment.ID
		sale.PaymentTransfer = &ref
	}

	if err := m.entities.Sales.Put(ctx, sale.ID, sale); err != nil {
		return nil, fmt.Errorf("matcher: %s: %w", sale.ID, err)
	}
	if err := m.consume(ctx, s.tx, sale.ID, c); err != nil {
		log.ErrorContext(ctx, "sale stored but its logs are still queued",
			slog.String("transfer", transferRef),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	log.InfoContext(ctx, "sale stored",
		slog.String("collection", domain.AddressKey(sale.Collection)),
		slog.String("token_id", sale.TokenID.String()),
		slog.String("payment_token", sale.PaymentToken),
		slog.Bool("price_resolved", sale.PriceResolved()),
	)
	return sale, nil
}

// consumption names the logs a Sale consumes. Empty refs are not consumed.
type consumption struct {
	transfer string
	payment  string
	order    string
}

// consume marks each consumed log, deletes its entity and pops it from its
// queue. Every step can be repeated, so an interrupted consume is completed
// by running it again.
func (m *Matcher) consume(ctx context.Context, tx *domain.Transaction, saleID string, c consumption) error {
	counts := make(map[domain.Queue]int, 3)
	for _, item := range []struct {
		q   domain.Queue
		ref string
	}{
		{domain.QueueOwnershipTransfer, c.transfer},
		{domain.QueuePaymentTransfer, c.payment},
		{domain.QueueOrderMatch, c.order},
	} {
		if item.ref == "" {
			continue
		}
		if err := m.entities.ConsumedLogs.Put(ctx, item.ref, &domain.ConsumedLog{ID: item.ref, Sale: saleID}); err != nil {
			return fmt.Errorf("matcher: %s: %w", saleID, err)
		}
		if err := m.deleteLog(ctx, item.q, item.ref); err != nil {
			return fmt.Errorf("matcher: %s: %w", saleID, err)
		}
		counts[item.q] = 1
	}

	if err := m.ledger.Consume(ctx, tx, counts); err != nil {
		return fmt.Errorf("matcher: %s: %w", saleID, err)
	}
	return nil
}

func (m *Matcher) deleteLog(ctx context.Context, q domain.Queue, ref string) error {
	switch q {
	case domain.QueueOwnershipTransfer:
		return m.entities.OwnershipTransfers.Delete(ctx, ref)
	case domain.QueuePaymentTransfer:
		return m.entities.PaymentTransfers.Delete(ctx, ref)
	default:
		return m.entities.OrderMatches.Delete(ctx, ref)
	}
}
