package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrSellInFlight     = errors.New("sell already in flight")
	ErrNothingToSell    = errors.New("nothing left to sell")
	ErrInvalidIntent    = errors.New("invalid swap intent")
	ErrSigningFailed    = errors.New("signing failed")
	ErrUnconfirmed      = errors.New("transaction not confirmed")
	ErrAllRelaysFailed  = errors.New("all relay submissions failed")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrContextDone      = errors.New("context cancelled")
	ErrLockHeld         = errors.New("lock already held")
	ErrFlowInterrupted  = errors.New("settings flow interrupted")
	ErrInsufficientBal  = errors.New("insufficient balance")
	ErrPriceUnavailable = errors.New("price unavailable")
)
