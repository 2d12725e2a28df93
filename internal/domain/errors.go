package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrReverted       = errors.New("call reverted")
	ErrNoQuote        = errors.New("no price quote available")
	ErrMalformedQuote = errors.New("malformed price quote")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrLockHeld       = errors.New("lock already held")
)
