// Package store layers typed repositories over the raw domain.KV entity
// store. Records are encoded as JSON and always written whole.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

// Repo is a typed view of one entity kind.
type Repo[T any] struct {
	kv   domain.KV
	kind domain.Kind
}

// NewRepo creates a Repo for kind backed by kv.
func NewRepo[T any](kv domain.KV, kind domain.Kind) *Repo[T] {
	return &Repo[T]{kv: kv, kind: kind}
}

// Get loads the record stored under key. It returns domain.ErrNotFound when
// the key is absent.
func (r *Repo[T]) Get(ctx context.Context, key string) (*T, error) {
	data, err := r.kv.Load(ctx, r.kind, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("store: load %s %s: %w", r.kind, key, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("store: decode %s %s: %w", r.kind, key, err)
	}
	return &v, nil
}

// Exists reports whether a record is stored under key.
func (r *Repo[T]) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.kv.Load(ctx, r.kind, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("store: load %s %s: %w", r.kind, key, err)
	}
}

// Put replaces the record stored under key with v.
func (r *Repo[T]) Put(ctx context.Context, key string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s %s: %w", r.kind, key, err)
	}
	if err := r.kv.Upsert(ctx, r.kind, key, data); err != nil {
		return fmt.Errorf("store: upsert %s %s: %w", r.kind, key, err)
	}
	return nil
}

// Delete removes the record stored under key.
func (r *Repo[T]) Delete(ctx context.Context, key string) error {
	if err := r.kv.Delete(ctx, r.kind, key); err != nil {
		return fmt.Errorf("store: delete %s %s: %w", r.kind, key, err)
	}
	return nil
}

// Entities bundles one repository per entity kind.
type Entities struct {
	Transactions       *Repo[domain.Transaction]
	OwnershipTransfers *Repo[domain.OwnershipTransfer]
	PaymentTransfers   *Repo[domain.PaymentTransfer]
	OrderMatches       *Repo[domain.OrderMatch]
	PaymentTokens      *Repo[domain.PaymentToken]
	Sales              *Repo[domain.Sale]
	Collections        *Repo[domain.Collection]
	Tokens             *Repo[domain.Token]
	Checkpoints        *Repo[domain.Checkpoint]
	ConsumedLogs       *Repo[domain.ConsumedLog]
}

// NewEntities creates every repository over the same store.
func NewEntities(kv domain.KV) *Entities {
	return &Entities{
		Transactions:       NewRepo[domain.Transaction](kv, domain.KindTransaction),
		OwnershipTransfers: NewRepo[domain.OwnershipTransfer](kv, domain.KindOwnershipTransfer),
		PaymentTransfers:   NewRepo[domain.PaymentTransfer](kv, domain.KindPaymentTransfer),
		OrderMatches:       NewRepo[domain.OrderMatch](kv, domain.KindOrderMatch),
		PaymentTokens:      NewRepo[domain.PaymentToken](kv, domain.KindPaymentToken),
		Sales:              NewRepo[domain.Sale](kv, domain.KindSale),
		Collections:        NewRepo[domain.Collection](kv, domain.KindCollection),
		Tokens:             NewRepo[domain.Token](kv, domain.KindToken),
		Checkpoints:        NewRepo[domain.Checkpoint](kv, domain.KindCheckpoint),
		ConsumedLogs:       NewRepo[domain.ConsumedLog](kv, domain.KindConsumedLog),
	}
}
