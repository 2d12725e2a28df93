package domain

import "context"

// SaleSink receives every committed Sale. Sinks are downstream of the commit:
// a failing sink never rolls a sale back.
type SaleSink interface {
	SaleCommitted(ctx context.Context, sale Sale) error
}

// Flusher is implemented by sinks that buffer.
type Flusher interface {
	Flush(ctx context.Context) error
}
