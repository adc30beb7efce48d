package ledger

import "errors"

// Rejection reasons surfaced by the ledger and the execution desk.
// These are business-rule rejections: callers surface them to the user
// without retry.
var (
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrPositionNotFound  = errors.New("position not found")
	ErrAlreadyClosed     = errors.New("position already closed")
	ErrInsufficientFunds = errors.New("insufficient funds")
)
