package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrade/internal/id"
)

// Ledger is the authoritative mapping of open and closed positions.
// It is written only by the execution desk; reads always reflect the
// latest committed open/close.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*Position
	byUser    map[string][]string // position IDs in creation order
}

func NewLedger() *Ledger {
	return &Ledger{
		positions: make(map[string]*Position),
		byUser:    make(map[string][]string),
	}
}

// Open creates an open position. Rejects non-positive quantity or
// entry price before any mutation.
func (l *Ledger) Open(userID, instrument string, side Side, qty, entry decimal.Decimal, at time.Time) (Position, error) {
	if qty.Sign() <= 0 {
		return Position{}, ErrInvalidQuantity
	}
	if entry.Sign() <= 0 {
		return Position{}, ErrInvalidPrice
	}

	p := &Position{
		ID:         id.New(),
		UserID:     userID,
		Instrument: instrument,
		Side:       side,
		Quantity:   qty,
		EntryPrice: entry,
		OpenedAt:   at,
		Status:     StatusOpen,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions[p.ID] = p
	l.byUser[userID] = append(l.byUser[userID], p.ID)
	return *p, nil
}

// Close settles an open position at closePrice. The realized P&L is
// computed with UnrealizedPnL so the two can never diverge.
func (l *Ledger) Close(positionID string, closePrice decimal.Decimal, at time.Time) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[positionID]
	if !ok {
		return Position{}, ErrPositionNotFound
	}
	if p.Status == StatusClosed {
		return Position{}, ErrAlreadyClosed
	}

	p.Status = StatusClosed
	p.ClosePrice = closePrice
	p.ClosedAt = at
	p.RealizedPnL = UnrealizedPnL(*p, closePrice)
	return *p, nil
}

// Get returns a copy of the position with the given ID.
func (l *Ledger) Get(positionID string) (Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[positionID]
	if !ok {
		return Position{}, ErrPositionNotFound
	}
	return *p, nil
}

// Delete removes a position. Compensation hook: used only by the desk
// to roll back an open whose persistence commit failed.
func (l *Ledger) Delete(positionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[positionID]
	if !ok {
		return
	}
	delete(l.positions, positionID)
	ids := l.byUser[p.UserID]
	for i, pid := range ids {
		if pid == positionID {
			l.byUser[p.UserID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// Reopen clears a position's close fields. Compensation hook: used only
// by the desk to roll back a close whose persistence commit failed.
func (l *Ledger) Reopen(positionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[positionID]
	if !ok {
		return
	}
	p.Status = StatusOpen
	p.ClosePrice = decimal.Decimal{}
	p.ClosedAt = time.Time{}
	p.RealizedPnL = decimal.Decimal{}
}

// ListOpen returns the user's open positions in creation order.
func (l *Ledger) ListOpen(userID string) []Position {
	return l.list(userID, func(p *Position) bool { return p.Status == StatusOpen })
}

// ListAll returns all of the user's positions in creation order.
func (l *Ledger) ListAll(userID string) []Position {
	return l.list(userID, func(*Position) bool { return true })
}

func (l *Ledger) list(userID string, keep func(*Position) bool) []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Position
	for _, pid := range l.byUser[userID] {
		if p := l.positions[pid]; p != nil && keep(p) {
			out = append(out, *p)
		}
	}
	return out
}
