package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindOpen  Kind = "open"
	KindClose Kind = "close"
	KindFee   Kind = "fee"
)

// Transaction is a write-once audit entry appended for every
// balance-affecting operation. Amount is signed as the balance effect:
// debits are negative, credits positive.
type Transaction struct {
	ID         string
	UserID     string
	Kind       Kind
	Amount     decimal.Decimal
	Currency   string
	PositionID string
	CreatedAt  time.Time
}
