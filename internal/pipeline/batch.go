package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

// TxLogs is everything needed to replay one settlement transaction.
type TxLogs struct {
	Hash        common.Hash    `json:"hash"`
	BlockNumber uint64         `json:"blockNumber"`
	TxIndex     uint           `json:"txIndex"`
	Timestamp   uint64         `json:"timestamp"`
	To          common.Address `json:"to"`
	Input       hexutil.Bytes  `json:"input,omitempty"`
	Logs        []types.Log    `json:"logs"`
}

// LogBatch is the raw material of one indexer step over [FromBlock, ToBlock].
type LogBatch struct {
	FromBlock    uint64   `json:"fromBlock"`
	ToBlock      uint64   `json:"toBlock"`
	Transactions []TxLogs `json:"transactions"`
}

// BatchPath is the object path of the batch covering [from, to]. Block
// numbers are zero padded so that listing order is block order.
func BatchPath(prefix string, from, to uint64) string {
	return path.Join(prefix, fmt.Sprintf("%012d-%012d.json", from, to))
}

// multipartThreshold is the encoded size above which batches are uploaded
// in parts.
const multipartThreshold = 16 << 20

// BatchArchive stores raw log batches in object storage.
type BatchArchive struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewBatchArchive creates a BatchArchive writing under prefix. When reader is
// non-nil, batches that are already archived are not uploaded again.
func NewBatchArchive(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *BatchArchive {
	return &BatchArchive{writer: writer, reader: reader, prefix: prefix}
}

// Put uploads batch. Empty batches are not archived.
func (a *BatchArchive) Put(ctx context.Context, batch LogBatch) error {
	if len(batch.Transactions) == 0 {
		return nil
	}
	p := BatchPath(a.prefix, batch.FromBlock, batch.ToBlock)

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, p)
		if err != nil {
			return fmt.Errorf("pipeline: archive batch %s: %w", p, err)
		}
		if exists {
			return nil
		}
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("pipeline: marshal batch %s: %w", p, err)
	}
	if len(data) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, p, bytes.NewReader(data), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, p, bytes.NewReader(data), "application/json")
	}
	if err != nil {
		return fmt.Errorf("pipeline: archive batch %s: %w", p, err)
	}
	return nil
}

// DecodeBatch reads one archived batch.
func DecodeBatch(r io.Reader) (LogBatch, error) {
	var batch LogBatch
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return LogBatch{}, fmt.Errorf("pipeline: decode batch: %w", err)
	}
	return batch, nil
}
