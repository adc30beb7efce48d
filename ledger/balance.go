package ledger

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Balances maps each user to a set of non-negative currency balances.
// Written only by the execution desk.
type Balances struct {
	mu       sync.RWMutex
	accounts map[string]map[string]decimal.Decimal
}

func NewBalances() *Balances {
	return &Balances{accounts: make(map[string]map[string]decimal.Decimal)}
}

// Get returns the user's balance in the given currency (zero if the
// account is unknown).
func (b *Balances) Get(userID, currency string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.accounts[userID][currency]
}

// All returns a copy of the user's balances by currency.
func (b *Balances) All(userID string) map[string]decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(b.accounts[userID]))
	for cur, amt := range b.accounts[userID] {
		out[cur] = amt
	}
	return out
}

// Deposit adds funds to the user's balance and returns the new amount.
func (b *Balances) Deposit(userID, currency string, amount decimal.Decimal) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.accounts[userID][currency].Add(amount)
	b.set(userID, currency, next)
	return next
}

// Debit withdraws amount (positive) from the user's balance, rejecting
// any overdraft before mutation.
func (b *Balances) Debit(userID, currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.accounts[userID][currency].Sub(amount)
	if next.Sign() < 0 {
		return decimal.Decimal{}, ErrInsufficientFunds
	}
	b.set(userID, currency, next)
	return next, nil
}

// Credit applies a signed amount to the user's balance. A negative
// credit larger than the balance floors at zero: the balance invariant
// outranks the arithmetic result.
func (b *Balances) Credit(userID, currency string, amount decimal.Decimal) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.accounts[userID][currency].Add(amount)
	if next.Sign() < 0 {
		next = decimal.Decimal{}
	}
	b.set(userID, currency, next)
	return next
}

// Set overwrites the user's balance. Compensation hook: used only by
// the desk to restore a balance after a failed persistence commit.
func (b *Balances) Set(userID, currency string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set(userID, currency, amount)
}

func (b *Balances) set(userID, currency string, amount decimal.Decimal) {
	acct, ok := b.accounts[userID]
	if !ok {
		acct = make(map[string]decimal.Decimal)
		b.accounts[userID] = acct
	}
	acct[currency] = amount
}
