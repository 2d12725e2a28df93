package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

var (
	apes  = common.HexToAddress("0xA1")
	punks = common.HexToAddress("0xB2")
)

// memBus is an in-process SignalBus.
type memBus struct {
	ch     chan []byte
	stream []domain.StreamMessage
}

func (b *memBus) Publish(context.Context, string, []byte) error { return nil }

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func (b *memBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *memBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for _, m := range b.stream {
		if m.ID > lastID && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func startHub(t *testing.T, bus domain.SignalBus) (*Hub, string) {
	t.Helper()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	env := read(t, conn)
	require.Equal(t, "status", env.Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func sale(id string, col common.Address) domain.Sale {
	return domain.Sale{ID: id, Collection: col, TokenID: big.NewInt(1), Price: big.NewInt(10)}
}

func saleID(t *testing.T, env envelope) string {
	t.Helper()
	var s domain.Sale
	require.NoError(t, json.Unmarshal(env.Payload, &s))
	return s.ID
}

func TestSaleCommittedBroadcast(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)

	require.NoError(t, hub.SaleCommitted(context.Background(), sale("0x01:3", apes)))

	env := read(t, conn)
	assert.Equal(t, "sale", env.Type)
	assert.Equal(t, "0x01:3", saleID(t, env))
}

func TestCollectionFilter(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url+"?collections="+apes.Hex())

	ctx := context.Background()
	require.NoError(t, hub.SaleCommitted(ctx, sale("0x01:3", punks)))
	require.NoError(t, hub.SaleCommitted(ctx, sale("0x02:3", apes)))

	assert.Equal(t, "0x02:3", saleID(t, read(t, conn)))
}

func TestBusRelayAndResume(t *testing.T) {
	old, err := json.Marshal(sale("0x00:1", apes))
	require.NoError(t, err)
	bus := &memBus{
		ch: make(chan []byte, 1),
		stream: []domain.StreamMessage{
			{ID: "1-0", Payload: old},
			{ID: "2-0", Payload: old},
		},
	}
	_, url := startHub(t, bus)
	conn := dial(t, url)

	live, err := json.Marshal(sale("0x03:5", punks))
	require.NoError(t, err)
	bus.ch <- live
	assert.Equal(t, "0x03:5", saleID(t, read(t, conn)))

	require.NoError(t, conn.WriteJSON(controlMsg{Action: "resume", Since: "1-0"}))
	env := read(t, conn)
	assert.Equal(t, "2-0", env.ID)
	assert.Equal(t, "0x00:1", saleID(t, env))
}
