package domain

import "slices"

// Queue selects one of a transaction's pending-log queues.
type Queue int

const (
	QueueOwnershipTransfer Queue = iota
	QueuePaymentTransfer
	QueueOrderMatch
)

func (q Queue) String() string {
	switch q {
	case QueueOwnershipTransfer:
		return "ownership_transfer"
	case QueuePaymentTransfer:
		return "payment_transfer"
	case QueueOrderMatch:
		return "order_match"
	default:
		return "unknown"
	}
}

// Transaction holds the logs of one on-chain transaction that have been
// recorded but not yet consumed by a match. Queues are whole values: every
// mutation installs a fresh slice, so a snapshot taken before a write is never
// affected by it.
type Transaction struct {
	ID                 string   `json:"id"`
	OwnershipTransfers []string `json:"ownershipTransfers"`
	PaymentTransfers   []string `json:"paymentTransfers"`
	OrderMatches       []string `json:"orderMatches"`
}

// Pending returns the queue q. The result must be treated as read-only.
func (t *Transaction) Pending(q Queue) []string {
	switch q {
	case QueueOwnershipTransfer:
		return t.OwnershipTransfers
	case QueuePaymentTransfer:
		return t.PaymentTransfers
	case QueueOrderMatch:
		return t.OrderMatches
	default:
		return nil
	}
}

// SetPending replaces queue q with a copy of refs.
func (t *Transaction) SetPending(q Queue, refs []string) {
	next := slices.Clone(refs)
	if next == nil {
		next = []string{}
	}
	switch q {
	case QueueOwnershipTransfer:
		t.OwnershipTransfers = next
	case QueuePaymentTransfer:
		t.PaymentTransfers = next
	case QueueOrderMatch:
		t.OrderMatches = next
	}
}

// Front returns the oldest reference in queue q.
func (t *Transaction) Front(q Queue) (string, bool) {
	refs := t.Pending(q)
	if len(refs) == 0 {
		return "", false
	}
	return refs[0], true
}
