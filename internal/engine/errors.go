package engine

import "errors"

var (
	// ErrValidation marks malformed requests (bad side, kind, quantity).
	ErrValidation = errors.New("invalid order request")
	// ErrForbidden marks callers without the role the operation needs.
	ErrForbidden = errors.New("not authorized for this account")
	// ErrInvalidState marks lifecycle transitions the state machine forbids.
	ErrInvalidState = errors.New("order not in a valid state for this operation")
	// ErrInsufficientFunds marks buys the account cannot cover.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientPosition marks sells beyond the held quantity.
	ErrInsufficientPosition = errors.New("insufficient position")
	// ErrUnknownTicker marks orders against symbols outside the universe.
	ErrUnknownTicker = errors.New("unknown ticker")
)
