package game

import "errors"

var (
	// Recoverable trading violations, surfaced verbatim to the caller.
	ErrInsufficientFunds     = errors.New("not enough cash for the deal")
	ErrConcentrationExceeded = errors.New("deal exceeds the per-company portfolio cap")
	ErrMarketClosed          = errors.New("market is closed")
	ErrCompanyLiquidated     = errors.New("company is liquidated")

	ErrRegistrationClosed = errors.New("registration is closed")
	ErrDuplicateJoin      = errors.New("identity already joined this game")
	ErrDuplicateNickname  = errors.New("nickname already taken")
	ErrConfigNotReady     = errors.New("configuration sheet is not marked ready")
	ErrInvalidConfigLink  = errors.New("configuration link is not valid")
	ErrEntityNotFound     = errors.New("entity not found")
	ErrInvalidQuantity    = errors.New("quantity must be a positive integer")
)
