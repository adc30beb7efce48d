// Package desk couples quotes, the position ledger and account
// balances into one consistent unit of work per trade intent. It is the
// only writer of the ledger and the balance store.
package desk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/rustyeddy/papertrade/internal/id"
	"github.com/rustyeddy/papertrade/journal"
	"github.com/rustyeddy/papertrade/ledger"
	"github.com/rustyeddy/papertrade/market"
)

var (
	// ErrUnknownInstrument rejects intents for symbols the quote
	// source has never seen.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrStore wraps persistence failures. Unlike the business-rule
	// rejections it may be retried by the caller; every staged
	// mutation has been rolled back by the time it is returned.
	ErrStore = errors.New("store failure")
)

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// QuoteSource is the desk's view of the market. feed.Bus satisfies it;
// a real market-data feed can substitute without touching the desk.
type QuoteSource interface {
	CurrentQuote(symbol string) (market.Quote, bool)
	Subscribe(topic string, handler market.QuoteHandler) func()
	HistorySince(symbol string, timeframe time.Duration) []market.Sample
}

// Result is the outcome of an accepted open or close: the affected
// position and the user's updated settlement-currency balance.
type Result struct {
	Position ledger.Position
	Balance  decimal.Decimal
}

type Config struct {
	Quotes   QuoteSource
	Journal  journal.Journal
	FeeRate  decimal.Decimal // e.g. 0.003
	Currency string          // settlement currency, e.g. "USD"
}

// Desk validates and applies trade intents. Operations for one user are
// serialized by a per-user mutex; different users proceed in parallel.
type Desk struct {
	quotes   QuoteSource
	journal  journal.Journal
	feeRate  decimal.Decimal
	currency string

	ledger   *ledger.Ledger
	balances *ledger.Balances

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

func New(cfg Config) *Desk {
	return &Desk{
		quotes:   cfg.Quotes,
		journal:  cfg.Journal,
		feeRate:  cfg.FeeRate,
		currency: cfg.Currency,
		ledger:   ledger.NewLedger(),
		balances: ledger.NewBalances(),
		users:    make(map[string]*sync.Mutex),
	}
}

func (d *Desk) userLock(userID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	mu, ok := d.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		d.users[userID] = mu
	}
	return mu
}

// Deposit seeds a user's balance and persists it. Not a trade
// operation: no transaction record is appended.
func (d *Desk) Deposit(userID, currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	mu := d.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	next := d.balances.Deposit(userID, currency, amount)
	if err := d.journal.Commit(journal.Entry{
		Balance: &journal.BalanceUpdate{UserID: userID, Currency: currency, Amount: next},
	}); err != nil {
		d.balances.Set(userID, currency, next.Sub(amount))
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return next, nil
}

// Balance returns the user's settlement-currency balance.
func (d *Desk) Balance(userID string) decimal.Decimal {
	return d.balances.Get(userID, d.currency)
}

// OpenPosition executes an open intent: resolve the execution price,
// charge notional plus fee, create the position and journal the result
// as one unit. Any rejection leaves balance and ledger untouched.
func (d *Desk) OpenPosition(userID, symbol string, side ledger.Side, quantity decimal.Decimal, orderType OrderType, limitPrice *decimal.Decimal) (Result, error) {
	if quantity.Sign() <= 0 {
		return Result{}, ledger.ErrInvalidQuantity
	}

	price, err := d.executionPrice(symbol, orderType, limitPrice)
	if err != nil {
		return Result{}, err
	}

	mu := d.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	notional := quantity.Mul(price)
	fee := notional.Mul(d.feeRate)
	total := notional.Add(fee)

	// Funds check precedes every mutation: no partial fills.
	if total.GreaterThan(d.balances.Get(userID, d.currency)) {
		return Result{}, ledger.ErrInsufficientFunds
	}

	now := time.Now().UTC()

	newBalance, err := d.balances.Debit(userID, d.currency, total)
	if err != nil {
		return Result{}, err
	}

	pos, err := d.ledger.Open(userID, symbol, side, quantity, price, now)
	if err != nil {
		d.balances.Credit(userID, d.currency, total)
		return Result{}, err
	}

	entry := journal.Entry{
		Position: &pos,
		Balance:  &journal.BalanceUpdate{UserID: userID, Currency: d.currency, Amount: newBalance},
		Transactions: []ledger.Transaction{
			{
				ID: id.New(), UserID: userID, Kind: ledger.KindOpen,
				Amount: notional.Neg(), Currency: d.currency,
				PositionID: pos.ID, CreatedAt: now,
			},
			{
				ID: id.New(), UserID: userID, Kind: ledger.KindFee,
				Amount: fee.Neg(), Currency: d.currency,
				PositionID: pos.ID, CreatedAt: now,
			},
		},
	}
	if err := d.journal.Commit(entry); err != nil {
		// Roll back the staged debit and the position; no silent
		// fund loss, no half-applied state.
		d.ledger.Delete(pos.ID)
		d.balances.Credit(userID, d.currency, total)
		return Result{}, fmt.Errorf("%w: %v", ErrStore, err)
	}

	log.WithFields(log.Fields{
		"user":       userID,
		"instrument": symbol,
		"side":       side,
		"position":   pos.ID,
	}).Info("position opened")

	return Result{Position: pos, Balance: newBalance}, nil
}

// ClosePosition settles an open position at the current quote and
// credits the realized P&L. Closing an already-closed position is a
// no-op error: the balance changes exactly once per position.
func (d *Desk) ClosePosition(positionID string) (Result, error) {
	pos, err := d.ledger.Get(positionID)
	if err != nil {
		return Result{}, err
	}

	mu := d.userLock(pos.UserID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the user lock: a concurrent close may have won.
	pos, err = d.ledger.Get(positionID)
	if err != nil {
		return Result{}, err
	}
	if pos.Status == ledger.StatusClosed {
		return Result{}, ledger.ErrAlreadyClosed
	}

	q, ok := d.quotes.CurrentQuote(pos.Instrument)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, pos.Instrument)
	}
	closePrice := decimal.NewFromFloat(q.Price)
	now := time.Now().UTC()

	prevBalance := d.balances.Get(pos.UserID, d.currency)

	closed, err := d.ledger.Close(positionID, closePrice, now)
	if err != nil {
		return Result{}, err
	}

	newBalance := d.balances.Credit(pos.UserID, d.currency, closed.RealizedPnL)

	entry := journal.Entry{
		Position: &closed,
		Balance:  &journal.BalanceUpdate{UserID: pos.UserID, Currency: d.currency, Amount: newBalance},
		Transactions: []ledger.Transaction{
			{
				ID: id.New(), UserID: pos.UserID, Kind: ledger.KindClose,
				Amount: closed.RealizedPnL, Currency: d.currency,
				PositionID: closed.ID, CreatedAt: now,
			},
		},
	}
	if err := d.journal.Commit(entry); err != nil {
		d.ledger.Reopen(positionID)
		d.balances.Set(pos.UserID, d.currency, prevBalance)
		return Result{}, fmt.Errorf("%w: %v", ErrStore, err)
	}

	log.WithFields(log.Fields{
		"user":     pos.UserID,
		"position": closed.ID,
		"pnl":      closed.RealizedPnL.String(),
	}).Info("position closed")

	return Result{Position: closed, Balance: newBalance}, nil
}

// executionPrice resolves the fill price for an intent. Market orders
// use the current quote; limit orders use limitPrice when provided and
// fall back to the current quote otherwise.
func (d *Desk) executionPrice(symbol string, orderType OrderType, limitPrice *decimal.Decimal) (decimal.Decimal, error) {
	q, ok := d.quotes.CurrentQuote(symbol)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	if orderType == OrderLimit && limitPrice != nil && limitPrice.Sign() > 0 {
		return *limitPrice, nil
	}
	return decimal.NewFromFloat(q.Price), nil
}

// ListPositions returns the user's positions, optionally filtered by
// status, in creation order.
func (d *Desk) ListPositions(userID string, status *ledger.Status) []ledger.Position {
	if status == nil {
		return d.ledger.ListAll(userID)
	}
	if *status == ledger.StatusOpen {
		return d.ledger.ListOpen(userID)
	}
	var out []ledger.Position
	for _, p := range d.ledger.ListAll(userID) {
		if p.Status == *status {
			out = append(out, p)
		}
	}
	return out
}

// UnrealizedPnL reports the open position's profit or loss at the
// current quote.
func (d *Desk) UnrealizedPnL(positionID string) (decimal.Decimal, error) {
	pos, err := d.ledger.Get(positionID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if pos.Status == ledger.StatusClosed {
		return pos.RealizedPnL, nil
	}
	q, ok := d.quotes.CurrentQuote(pos.Instrument)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, pos.Instrument)
	}
	return ledger.UnrealizedPnL(pos, decimal.NewFromFloat(q.Price)), nil
}

// ListTransactions returns the user's audit records oldest-first.
func (d *Desk) ListTransactions(userID string) ([]ledger.Transaction, error) {
	return d.journal.Transactions(userID)
}

// SubscribeQuotes forwards to the quote source for display layers.
func (d *Desk) SubscribeQuotes(topic string, handler market.QuoteHandler) func() {
	return d.quotes.Subscribe(topic, handler)
}

// CurrentPrice returns the latest price for symbol.
func (d *Desk) CurrentPrice(symbol string) (float64, error) {
	q, ok := d.quotes.CurrentQuote(symbol)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	return q.Price, nil
}

// History returns the retained samples for symbol within timeframe.
func (d *Desk) History(symbol string, timeframe time.Duration) []market.Sample {
	return d.quotes.HistorySince(symbol, timeframe)
}
