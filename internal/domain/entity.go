package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Kind names an entity collection in the key-value store.
type Kind string

const (
	KindTransaction       Kind = "Transaction"
	KindOwnershipTransfer Kind = "Transfer"
	KindPaymentTransfer   Kind = "ERC20Transfer"
	KindOrderMatch        Kind = "OrdersMatched"
	KindPaymentToken      Kind = "PaymentToken"
	KindSale              Kind = "Sale"
	KindCollection        Kind = "Collection"
	KindToken             Kind = "Token"
	KindCheckpoint        Kind = "Checkpoint"
	KindConsumedLog       Kind = "ConsumedLog"
)

// NativeToken is the sentinel payment-token address for the chain's native
// currency.
var NativeToken = common.Address{}

// LogKey is the composite identity of every log-derived entity.
func LogKey(txHash common.Hash, logIndex uint) string {
	return fmt.Sprintf("%s:%d", TxKey(txHash), logIndex)
}

// TxKey is the key of a Transaction record.
func TxKey(txHash common.Hash) string {
	return strings.ToLower(txHash.Hex())
}

// AddressKey is the key of address-identified entities (payment tokens,
// collections).
func AddressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// TokenKey is the key of a Token entity.
func TokenKey(collection common.Address, tokenID *big.Int) string {
	return fmt.Sprintf("%s:%s", AddressKey(collection), tokenID.String())
}

// OwnershipTransfer is a stored ERC-721 Transfer log awaiting a match.
type OwnershipTransfer struct {
	ID          string         `json:"id"`
	TxHash      common.Hash    `json:"txHash"`
	LogIndex    uint           `json:"logIndex"`
	BlockNumber uint64         `json:"blockNumber"`
	Timestamp   uint64         `json:"timestamp"`
	Collection  common.Address `json:"collection"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	TokenID     *big.Int       `json:"tokenId"`
}

// PaymentTransfer is a stored ERC-20 Transfer log awaiting a match.
type PaymentTransfer struct {
	ID          string         `json:"id"`
	TxHash      common.Hash    `json:"txHash"`
	LogIndex    uint           `json:"logIndex"`
	BlockNumber uint64         `json:"blockNumber"`
	Timestamp   uint64         `json:"timestamp"`
	Token       common.Address `json:"token"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Amount      *big.Int       `json:"amount"`
}

// OrderMatch is a stored OrdersMatched log. It is only persisted when
// settlements are detected from exchange call input.
type OrderMatch struct {
	ID          string         `json:"id"`
	TxHash      common.Hash    `json:"txHash"`
	LogIndex    uint           `json:"logIndex"`
	BlockNumber uint64         `json:"blockNumber"`
	Timestamp   uint64         `json:"timestamp"`
	Exchange    common.Address `json:"exchange"`
	BuyHash     common.Hash    `json:"buyHash"`
	SellHash    common.Hash    `json:"sellHash"`
	Maker       common.Address `json:"maker"`
	Taker       common.Address `json:"taker"`
	Price       *big.Int       `json:"price"`
	Metadata    hexutil.Bytes  `json:"metadata"`
}

// PaymentToken is the resolved metadata of the currency a sale settled in.
// It is written once and never changes.
type PaymentToken struct {
	ID       string         `json:"id"`
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// IsNative reports whether the token is the native-currency sentinel.
func (p PaymentToken) IsNative() bool {
	return p.Address == NativeToken
}

// Sale is the reconciled marketplace settlement.
type Sale struct {
	ID              string         `json:"id"`
	TxHash          common.Hash    `json:"txHash"`
	BlockNumber     uint64         `json:"blockNumber"`
	Timestamp       uint64         `json:"timestamp"`
	Collection      common.Address `json:"collection"`
	TokenID         *big.Int       `json:"tokenId"`
	Token           string         `json:"token"`
	Seller          common.Address `json:"seller"`
	Buyer           common.Address `json:"buyer"`
	Exchange        common.Address `json:"exchange"`
	BuyHash         common.Hash    `json:"buyHash"`
	SellHash        common.Hash    `json:"sellHash"`
	Metadata        hexutil.Bytes  `json:"metadata"`
	Price           *big.Int       `json:"price"`
	PaymentToken    string         `json:"paymentToken"`
	USDPrice        *big.Int       `json:"usdPrice"` // nil when no quote could be obtained
	Transfer        string         `json:"transfer"`
	PaymentTransfer *string        `json:"paymentTransfer,omitempty"`
}

// PriceResolved reports whether the sale carries a normalized USD price.
func (s Sale) PriceResolved() bool {
	return s.USDPrice != nil
}

// Collection is an ERC-721 contract observed in at least one sale.
type Collection struct {
	ID      string         `json:"id"`
	Address common.Address `json:"address"`
	Name    *string        `json:"name"`
	Symbol  *string        `json:"symbol"`
}

// Token is a single NFT observed in at least one sale.
type Token struct {
	ID         string   `json:"id"`
	Collection string   `json:"collection"`
	TokenID    *big.Int `json:"tokenId"`
	TokenURI   *string  `json:"tokenUri"`
}

// Checkpoint records indexer progress.
type Checkpoint struct {
	ID        string `json:"id"`
	Block     uint64 `json:"block"`
	UpdatedAt int64  `json:"updatedAt"`
}

// ConsumedLog marks a log entity that a Sale consumed. It outlives the
// deleted entity so that a redelivered log is not queued again.
type ConsumedLog struct {
	ID   string `json:"id"`
	Sale string `json:"sale"`
}
