package service

import "errors"

var (
	// ErrAuthenticationRequired is returned when a voucher or order operation has no caller identity.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrVoucherRejected wraps a *pricing.Rejection on interactive paths.
	ErrVoucherRejected = errors.New("voucher rejected")
	// ErrCartNotFound means the caller has no active cart.
	ErrCartNotFound = errors.New("active cart not found")
	// ErrVoucherNotFound means the code does not resolve to a voucher.
	ErrVoucherNotFound = errors.New("voucher not found")
	// ErrOrderNotFound means the order does not exist or belongs to someone else.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition is returned when the order state machine forbids a move.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrDuplicateRequest is returned while another request holds the same idempotency key.
	ErrDuplicateRequest = errors.New("duplicate request in progress")
)
