// Package notify alerts operators about large sales over Telegram and
// Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/store"
)

// Sender is a single notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// TokenResolver ensures a PaymentToken record exists.
type TokenResolver interface {
	Resolve(ctx context.Context, token common.Address) error
}

// Notifier is a SaleSink that forwards sales priced at or above a USD
// threshold to every sender. Unpriced sales are never forwarded.
type Notifier struct {
	senders []Sender
	minUSD  decimal.Decimal
	logger  *slog.Logger

	resolver TokenResolver
	tokens   *store.Repo[domain.PaymentToken]
	usdToken common.Address

	mu          sync.Mutex
	usdDecimals *int32
}

var _ domain.SaleSink = (*Notifier)(nil)

// NewNotifier creates a Notifier. minUSD is in whole dollars.
func NewNotifier(senders []Sender, minUSD decimal.Decimal, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		minUSD:  minUSD,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithUSDToken sets the token USD prices are denominated in. Its decimals are
// read from the stored PaymentToken, which resolver creates when missing.
func (n *Notifier) WithUSDToken(resolver TokenResolver, tokens *store.Repo[domain.PaymentToken], token common.Address) *Notifier {
	n.resolver = resolver
	n.tokens = tokens
	n.usdToken = token
	return n
}

// SaleCommitted notifies about sale if it clears the threshold.
func (n *Notifier) SaleCommitted(ctx context.Context, sale domain.Sale) error {
	if sale.USDPrice == nil {
		return nil
	}
	decimals, err := n.decimals(ctx)
	if err != nil {
		return err
	}
	usd := decimal.NewFromBigInt(sale.USDPrice, -decimals)
	if usd.LessThan(n.minUSD) {
		return nil
	}

	title := fmt.Sprintf("Sale: %s #%s", shortAddress(sale.Collection.Hex()), sale.TokenID)
	msg := fmt.Sprintf("$%s paid by %s to %s\ntx %s",
		usd.StringFixed(2), sale.Buyer.Hex(), sale.Seller.Hex(), sale.TxHash.Hex())
	return n.Notify(ctx, title, msg)
}

// Notify sends a message to every sender. A failing sender does not stop
// delivery to the others; failures are returned combined.
func (n *Notifier) Notify(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// decimals returns the USD token's decimals, reading them once.
func (n *Notifier) decimals(ctx context.Context) (int32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.usdDecimals != nil {
		return *n.usdDecimals, nil
	}
	if n.tokens == nil {
		return 0, errors.New("notify: usd token not configured")
	}
	if n.resolver != nil {
		if err := n.resolver.Resolve(ctx, n.usdToken); err != nil {
			return 0, fmt.Errorf("notify: resolve usd token: %w", err)
		}
	}
	token, err := n.tokens.Get(ctx, domain.AddressKey(n.usdToken))
	if err != nil {
		return 0, fmt.Errorf("notify: usd token %s: %w", domain.AddressKey(n.usdToken), err)
	}
	d := int32(token.Decimals)
	n.usdDecimals = &d
	return d, nil
}

func shortAddress(hex string) string {
	if len(hex) <= 12 {
		return hex
	}
	return hex[:6] + "…" + hex[len(hex)-4:]
}
