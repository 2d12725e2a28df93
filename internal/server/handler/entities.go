package handler

import (
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/store"
)

// EntityHandler serves read-only lookups of stored entities.
type EntityHandler struct {
	entities *store.Entities
	usdToken string
	logger   *slog.Logger
}

// NewEntityHandler creates an EntityHandler over the entity store. USD prices
// are formatted with the decimals of the stored usdToken record.
func NewEntityHandler(entities *store.Entities, usdToken common.Address, logger *slog.Logger) *EntityHandler {
	return &EntityHandler{
		entities: entities,
		usdToken: domain.AddressKey(usdToken),
		logger:   logHandler(logger, "entities"),
	}
}

// saleResponse decorates a Sale with human-readable amounts.
type saleResponse struct {
	*domain.Sale
	PriceFormatted string               `json:"priceFormatted,omitempty"`
	USDFormatted   string               `json:"usdPriceFormatted,omitempty"`
	PaymentDetails *domain.PaymentToken `json:"paymentTokenDetails,omitempty"`
}

// GetSale returns a sale by id ({txHash}:{logIndex}).
// GET /api/sales/{id}
func (h *EntityHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(pathParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing sale id")
		return
	}

	sale, err := h.entities.Sales.Get(r.Context(), id)
	if !h.found(w, r, "sale", id, err) {
		return
	}

	resp := saleResponse{Sale: sale}
	if token := h.paymentToken(r, sale.PaymentToken); token != nil {
		resp.PaymentDetails = token
		resp.PriceFormatted = formatUnits(sale.Price, token.Decimals)
	}
	if sale.USDPrice != nil {
		if usd := h.paymentToken(r, h.usdToken); usd != nil {
			resp.USDFormatted = formatUnits(sale.USDPrice, usd.Decimals)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// paymentToken returns the stored token, or nil when it is absent or
// unreadable.
func (h *EntityHandler) paymentToken(r *http.Request, id string) *domain.PaymentToken {
	token, err := h.entities.PaymentTokens.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "payment token lookup failed",
				slog.String("payment_token", id),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	return token
}

// GetTransaction returns the pending-queue record of a transaction.
// GET /api/transactions/{hash}
func (h *EntityHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	hash := strings.ToLower(pathParam(r, "hash"))
	if len(hash) != 66 || !strings.HasPrefix(hash, "0x") {
		writeError(w, http.StatusBadRequest, "invalid transaction hash")
		return
	}

	tx, err := h.entities.Transactions.Get(r.Context(), hash)
	if !h.found(w, r, "transaction", hash, err) {
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// GetPaymentToken returns resolved payment token metadata.
// GET /api/payment-tokens/{address}
func (h *EntityHandler) GetPaymentToken(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(r, "address")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	key := domain.AddressKey(addr)
	token, err := h.entities.PaymentTokens.Get(r.Context(), key)
	if !h.found(w, r, "payment token", key, err) {
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// GetCollection returns a collection.
// GET /api/collections/{address}
func (h *EntityHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(r, "address")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	key := domain.AddressKey(addr)
	col, err := h.entities.Collections.Get(r.Context(), key)
	if !h.found(w, r, "collection", key, err) {
		return
	}
	writeJSON(w, http.StatusOK, col)
}

// GetToken returns a single NFT.
// GET /api/tokens/{collection}/{tokenId}
func (h *EntityHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(r, "collection")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection address")
		return
	}
	id, ok := new(big.Int).SetString(pathParam(r, "tokenId"), 10)
	if !ok || id.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	key := domain.TokenKey(addr, id)
	token, err := h.entities.Tokens.Get(r.Context(), key)
	if !h.found(w, r, "token", key, err) {
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// found writes the error response for a failed lookup and reports whether the
// handler should continue.
func (h *EntityHandler) found(w http.ResponseWriter, r *http.Request, what, key string, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return false
	}
	h.logger.ErrorContext(r.Context(), "lookup failed",
		slog.String("entity", what),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to load "+what)
	return false
}
