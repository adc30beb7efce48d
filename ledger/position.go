package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Position is a user's directional exposure to an instrument. The
// close-only fields (ClosePrice, ClosedAt, RealizedPnL) stay zero while
// Status is open and are set exactly once when the position closes.
type Position struct {
	ID         string
	UserID     string
	Instrument string
	Side       Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	OpenedAt   time.Time
	Status     Status

	ClosePrice  decimal.Decimal
	ClosedAt    time.Time
	RealizedPnL decimal.Decimal
}

// UnrealizedPnL computes profit or loss for p at the given price:
// (price - entry) * qty for buys, (entry - price) * qty for sells.
//
// Close uses this exact function with the close price, so the
// unrealized P&L just before a close equals the realized P&L recorded
// by the close when both read the same quote.
func UnrealizedPnL(p Position, price decimal.Decimal) decimal.Decimal {
	if p.Side == SideSell {
		return p.EntryPrice.Sub(price).Mul(p.Quantity)
	}
	return price.Sub(p.EntryPrice).Mul(p.Quantity)
}
