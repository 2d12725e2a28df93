// Package clickhouse streams committed sales into a ClickHouse table for
// analytics.
package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

// usdcDecimals is the precision of normalized prices.
const usdcDecimals = 6

const createTable = `
CREATE TABLE IF NOT EXISTS %s (
	id              String,
	block_number    UInt64,
	block_time      DateTime,
	tx_hash         String,
	collection      String,
	token_id        String,
	seller          String,
	buyer           String,
	exchange        String,
	payment_token   String,
	price           UInt256,
	usd_price       Nullable(UInt256),
	usd_price_float Nullable(Float64)
) ENGINE = ReplacingMergeTree
ORDER BY (collection, block_number, id)`

// Sink buffers sales and inserts them in batches. It implements
// domain.SaleSink and domain.Flusher.
type Sink struct {
	conn     driver.Conn
	table    string
	maxBatch int
	logger   *slog.Logger

	mu      sync.Mutex
	pending []Row
}

// Open connects to the ClickHouse server at dsn and creates table if needed.
func Open(ctx context.Context, dsn, table string, maxBatch int, logger *slog.Logger) (*Sink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: parse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}
	if err := conn.Exec(ctx, fmt.Sprintf(createTable, table)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse: create table %s: %w", table, err)
	}

	if maxBatch <= 0 {
		maxBatch = 1000
	}
	return &Sink{
		conn:     conn,
		table:    table,
		maxBatch: maxBatch,
		logger:   logger.With(slog.String("component", "clickhouse")),
	}, nil
}

// Row is one sale as inserted into ClickHouse.
type Row struct {
	ID            string
	BlockNumber   uint64
	BlockTime     time.Time
	TxHash        string
	Collection    string
	TokenID       string
	Seller        string
	Buyer         string
	Exchange      string
	PaymentToken  string
	Price         *big.Int
	USDPrice      *big.Int
	USDPriceFloat *float64
}

// NewRow converts a sale.
func NewRow(sale domain.Sale) Row {
	row := Row{
		ID:           sale.ID,
		BlockNumber:  sale.BlockNumber,
		BlockTime:    time.Unix(int64(sale.Timestamp), 0).UTC(),
		TxHash:       domain.TxKey(sale.TxHash),
		Collection:   domain.AddressKey(sale.Collection),
		TokenID:      sale.TokenID.String(),
		Seller:       domain.AddressKey(sale.Seller),
		Buyer:        domain.AddressKey(sale.Buyer),
		Exchange:     domain.AddressKey(sale.Exchange),
		PaymentToken: sale.PaymentToken,
		Price:        sale.Price,
	}
	if sale.USDPrice != nil {
		row.USDPrice = sale.USDPrice
		f := decimal.NewFromBigInt(sale.USDPrice, -usdcDecimals).InexactFloat64()
		row.USDPriceFloat = &f
	}
	return row
}

// SaleCommitted buffers the sale, flushing when the buffer is full.
func (s *Sink) SaleCommitted(ctx context.Context, sale domain.Sale) error {
	s.mu.Lock()
	s.pending = append(s.pending, NewRow(sale))
	full := len(s.pending) >= s.maxBatch
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush inserts every buffered sale. On failure the rows are kept for the
// next attempt.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	rows := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}
	if err := s.insert(ctx, rows); err != nil {
		s.mu.Lock()
		s.pending = append(rows, s.pending...)
		s.mu.Unlock()
		return err
	}

	s.logger.DebugContext(ctx, "sales inserted", slog.Int("count", len(rows)))
	return nil
}

func (s *Sink) insert(ctx context.Context, rows []Row) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(
			r.ID, r.BlockNumber, r.BlockTime, r.TxHash, r.Collection, r.TokenID,
			r.Seller, r.Buyer, r.Exchange, r.PaymentToken,
			r.Price, r.USDPrice, r.USDPriceFloat,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("clickhouse: append %s: %w", r.ID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send batch: %w", err)
	}
	return nil
}

// Close flushes pending rows and closes the connection.
func (s *Sink) Close(ctx context.Context) error {
	flushErr := s.Flush(ctx)
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("clickhouse: close: %w", err)
	}
	return flushErr
}

var (
	_ domain.SaleSink = (*Sink)(nil)
	_ domain.Flusher  = (*Sink)(nil)
)
