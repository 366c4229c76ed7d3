package domain

import "errors"

var (
	// ErrRateLimited is returned by adapters when the venue throttles a request.
	ErrRateLimited = errors.New("rate limited")
	// ErrContractNotFound means a symbol could not be resolved to a contract id.
	ErrContractNotFound = errors.New("contract not found")
	// ErrOrderRejected is returned when the venue refuses an order (e.g. a post-only that would cross).
	ErrOrderRejected = errors.New("order rejected")
	// ErrOrderNotFound is returned by status lookups for unknown order ids.
	ErrOrderNotFound = errors.New("order not found")
)
