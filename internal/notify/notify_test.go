package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/store"
	"github.com/KowsarAtz/nfts-price/internal/store/memory"
)

var usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

// storingResolver stores the token with fixed decimals and counts calls.
type storingResolver struct {
	tokens   *store.Repo[domain.PaymentToken]
	decimals uint8
	calls    int
}

func (r *storingResolver) Resolve(ctx context.Context, token common.Address) error {
	r.calls++
	id := domain.AddressKey(token)
	return r.tokens.Put(ctx, id, &domain.PaymentToken{ID: id, Address: token, Symbol: "USDC", Decimals: r.decimals})
}

func newNotifier(senders []Sender, minUSD decimal.Decimal, decimals uint8) (*Notifier, *storingResolver) {
	tokens := store.NewEntities(memory.NewKV()).PaymentTokens
	r := &storingResolver{tokens: tokens, decimals: decimals}
	return NewNotifier(senders, minUSD, discard()).WithUSDToken(r, tokens, usdc), r
}

type recordingSender struct {
	name string
	err  error
	sent []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.sent = append(s.sent, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func saleWithUSD(usd *big.Int) domain.Sale {
	return domain.Sale{
		ID:         "0x01:3",
		Collection: common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D"),
		TokenID:    big.NewInt(42),
		USDPrice:   usd,
	}
}

func TestSaleThreshold(t *testing.T) {
	tests := []struct {
		name string
		usd  *big.Int
		want int
	}{
		{"unpriced", nil, 0},
		{"below", big.NewInt(999_999_999), 0},
		{"at threshold", big.NewInt(1_000_000_000), 1},
		{"above", big.NewInt(5_000_000_000), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &recordingSender{name: "rec"}
			n, _ := newNotifier([]Sender{s}, decimal.NewFromInt(1000), 6)

			require.NoError(t, n.SaleCommitted(context.Background(), saleWithUSD(tt.usd)))
			assert.Len(t, s.sent, tt.want)
		})
	}
}

func TestSaleThreshold_UsesStoredTokenDecimals(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n, r := newNotifier([]Sender{s}, decimal.NewFromInt(1000), 18)
	ctx := context.Background()

	// 1e9 units is $1000 at 6 decimals but a fraction of a cent at 18.
	require.NoError(t, n.SaleCommitted(ctx, saleWithUSD(big.NewInt(1_000_000_000))))
	assert.Empty(t, s.sent)

	atThreshold := new(big.Int).Exp(big.NewInt(10), big.NewInt(21), nil)
	require.NoError(t, n.SaleCommitted(ctx, saleWithUSD(atThreshold)))
	assert.Len(t, s.sent, 1)
	assert.Equal(t, 1, r.calls, "decimals are read once")
}

func TestSaleCommitted_USDTokenRequired(t *testing.T) {
	n := NewNotifier([]Sender{&recordingSender{name: "rec"}}, decimal.Zero, discard())

	err := n.SaleCommitted(context.Background(), saleWithUSD(big.NewInt(1)))
	assert.ErrorContains(t, err, "usd token not configured")
}

func TestNotifyContinuesAfterFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n, _ := newNotifier([]Sender{bad, good}, decimal.Zero, 6)

	err := n.SaleCommitted(context.Background(), saleWithUSD(big.NewInt(1)))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"Sale: 0xBC4C…f13D #42"}, good.sent)
}

func TestTelegramSend(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewTelegramSender(srv.URL, "tok", "chat").Send(context.Background(), "T", "M")

	require.NoError(t, err)
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "chat", got["chat_id"])
	assert.Equal(t, "*T*\nM", got["text"])
}

func TestDiscordSendStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "M")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429")
}
