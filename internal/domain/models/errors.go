package models

import "errors"

var (
	ErrValidation         = errors.New("validation error")
	ErrStateConflict      = errors.New("state conflict")
	ErrAdapterFailure     = errors.New("adapter failure")
	ErrCascadeFailed      = errors.New("cascade failed")
	ErrRiskLimitExceeded  = errors.New("risk limit exceeded")
	ErrOverrideNotFound   = errors.New("override watchlist not found")
	ErrUnknownWatchlist   = errors.New("unknown watchlist")
	ErrUnknownToken       = errors.New("unknown token")
	ErrSuggestionExpired  = errors.New("suggestion expired")
	ErrSignalNotActive    = errors.New("signal not active")
	ErrDuplicateExecution = errors.New("duplicate execution")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrDuplicateKey       = errors.New("duplicate key")
)
