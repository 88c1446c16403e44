package application

import "errors"

var (
	// ErrInvalidTx is returned when a pending transaction is missing required fields.
	ErrInvalidTx = errors.New("invalid transaction")
	// ErrUpstreamUnavailable is returned when the fee oracle cannot produce a sample.
	ErrUpstreamUnavailable = errors.New("fee oracle unavailable")
	// ErrNonceExpired is returned by senders when the chain already consumed the nonce.
	ErrNonceExpired = errors.New("nonce expired")
)
