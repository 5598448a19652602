package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
	ErrAlreadyClaimed  = errors.New("already claimed")
	ErrChallengeActive = errors.New("challenge period active")
	ErrNotSettled      = errors.New("market not settled")
	ErrLedgerDisabled  = errors.New("ledger submission not configured")
)
