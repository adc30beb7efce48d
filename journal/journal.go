// Package journal is the persistence collaborator for the execution
// desk: positions, balances and transaction records, committed as one
// all-or-nothing unit per operation.
package journal

import (
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrade/ledger"
)

// BalanceUpdate records a user's new balance in one currency.
type BalanceUpdate struct {
	UserID   string
	Currency string
	Amount   decimal.Decimal
}

// Entry is one atomic unit of work. Nil fields are skipped; everything
// present is committed together or not at all.
type Entry struct {
	Position     *ledger.Position
	Balance      *BalanceUpdate
	Transactions []ledger.Transaction
}

type Journal interface {
	Commit(Entry) error
	// Transactions returns the user's audit records oldest-first.
	Transactions(userID string) ([]ledger.Transaction, error)
	Close() error
}
