package desk

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/papertrade/journal"
	"github.com/rustyeddy/papertrade/ledger"
	"github.com/rustyeddy/papertrade/market"
)

type stubQuotes struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newStubQuotes() *stubQuotes {
	return &stubQuotes{prices: map[string]float64{"BTC/USD": 42000}}
}

func (s *stubQuotes) set(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

func (s *stubQuotes) CurrentQuote(symbol string) (market.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	if !ok {
		return market.Quote{}, false
	}
	return market.Quote{Instrument: symbol, Price: p, Time: time.Now()}, true
}

func (s *stubQuotes) Subscribe(topic string, handler market.QuoteHandler) func() {
	return func() {}
}

func (s *stubQuotes) HistorySince(symbol string, timeframe time.Duration) []market.Sample {
	return nil
}

// flakyJournal fails Commit on demand to exercise the rollback paths.
type flakyJournal struct {
	*journal.Memory
	fail bool
}

func (f *flakyJournal) Commit(e journal.Entry) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Memory.Commit(e)
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString(s)
}

func newTestDesk(t *testing.T) (*Desk, *stubQuotes, *flakyJournal) {
	t.Helper()
	quotes := newStubQuotes()
	j := &flakyJournal{Memory: journal.NewMemory()}
	d := New(Config{
		Quotes:   quotes,
		Journal:  j,
		FeeRate:  decimal.NewFromFloat(0.003),
		Currency: "USD",
	})
	_, err := d.Deposit("alice", "USD", dec(t, "10000"))
	require.NoError(t, err)
	return d, quotes, j
}

func TestOpenThenCloseWorkedExample(t *testing.T) {
	d, quotes, _ := newTestDesk(t)

	// 0.1 BTC at 42,000 with a 0.3% fee: debit 4,212.60.
	res, err := d.OpenPosition("alice", "BTC/USD", ledger.SideBuy, dec(t, "0.1"), OrderMarket, nil)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusOpen, res.Position.Status)
	assert.True(t, res.Position.EntryPrice.Equal(dec(t, "42000")))
	assert.True(t, res.Balance.Equal(dec(t, "5787.4")), "got %s", res.Balance)
	assert.True(t, d.Balance("alice").Equal(dec(t, "5787.4")))

	// Close at 43,000: P&L = 100.
	quotes.set("BTC/USD", 43000)
	closed, err := d.ClosePosition(res.Position.ID)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusClosed, closed.Position.Status)
	assert.True(t, closed.Position.RealizedPnL.Equal(dec(t, "100")))
	assert.True(t, closed.Balance.Equal(dec(t, "5887.4")), "got %s", closed.Balance)

	txns, err := d.ListTransactions("alice")
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, ledger.KindOpen, txns[0].Kind)
	assert.True(t, txns[0].Amount.Equal(dec(t, "-4200")))
	assert.Equal(t, ledger.KindFee, txns[1].Kind)
	assert.True(t, txns[1].Amount.Equal(dec(t, "-12.6")))
	assert.Equal(t, ledger.KindClose, txns[2].Kind)
	assert.True(t, txns[2].Amount.Equal(dec(t, "100")))
	for _, txn := range txns {
		assert.Equal(t, res.Position.ID, txn.PositionID)
	}
}

func TestOpenRejectsZeroQuantity(t *testing.T) {
	d, _, _ := newTestDesk(t)

	_, err := d.OpenPosition("alice", "BTC/USD", ledger.SideBuy, decimal.Zero, OrderMarket, nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidQuantity)

	assert.True(t, d.Balance("alice").Equal(dec(t, "10000")))
	assert.Empty(t, d.ListPositions("alice", nil))
	txns, _ := d.ListTransactions("alice")
	assert.Empty(t, txns)
}

func TestOpenRejectsUnknownInstrument(t *testing.T) {
	d, _, _ := newTestDesk(t)

	_, err := d.OpenPosition("alice", "DOGE/USD", ledger.SideBuy, dec(t, "1"), OrderMarket, nil)
	assert.ErrorIs(t, err, ErrUnknownInstrument)
	assert.True(t, d.Balance("alice").Equal(dec(t, "10000")))
}

func TestOpenRejectsInsufficientFunds(t *testing.T) {
	d, _, _ := newTestDesk(t)

	// 1 BTC costs 42,126 all-in; balance is 10,000.
	_, err := d.OpenPosition("alice", "BTC/USD", ledger.SideBuy, dec(t, "1"), OrderMarket, nil)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	assert.True(t, d.Balance("alice").Equal(dec(t, "10000")))
	assert.Empty(t, d.ListPositions("alice", nil))
}

func TestOpenLimitOrder(t *testing.T) {
	d, _, _ := newTestDesk(t)

	limit := dec(t, "41000")
	res, err := d.OpenPosition("alice", "BTC/USD", ledger.SideBuy, dec(t, "0.1"), OrderLimit, &limit)
	require.NoError(t, err)
	assert.True(t, res.Position.EntryPrice.Equal(limit))

	// Limit order without a price falls back to the current quote.
	res, err = d.OpenPosition("alice", "BTC/USD", ledger.SideBuy, dec(t, "0.01"), OrderLimit, nil)
	require.NoError(t, err)
	assert.True(t, res.Position.EntryPrice.Equal(dec(t, "42000")))
}

func TestCloseRejections(t *testing.T) {
	d, _, _ := newTestDesk(t)

	_, err := d.ClosePosition("no-such-id")
	assert.ErrorIs(t, err, ledger.ErrPositionNotFound)

	res, err := d.OpenPosition("alice", "BTC/USD", ledger.SideBuy, dec(t, "0.1"), OrderMarket, nil)
	require.NoError(t, err)

	_, err = d.ClosePosition(res.Position.ID)
	require.NoError(t, err)

	_, err = d.ClosePosition(res.Position.ID)
	assert.ErrorIs(t, err, ledger.ErrAlreadyClosed)
}

func TestIdempotentCloseChangesBalanceOnce(t *testing.T) {
	d, quotes, _ := newTestDesk(t)

	res, err := d.OpenPosition("alice", "BTC/USD", ledger.SideBuy, dec(t, "0.1"), OrderMarket, nil)
	require.NoError(t, err)

	quotes.set("BTC/USD", 43000)
	closed, err := d.ClosePosition(res.Position.ID)
	require.NoError(t, err)
	want := closed.Balance

	for i := 0; i < 3; i++ {
		_, err = d.ClosePosition(res.Position.ID)
		assert.ErrorIs(t, err, ledger.ErrAlreadyClosed)
	}
	assert.True(t, d.Balance("alice").Equal(want))

	txns, _ := d.ListTransactions("alice")
	closeCount := 0
	for _, txn := range txns {
		if txn.Kind == ledger.KindClose {
			closeCount++
		}
	}
	assert.Equal(t, 1, closeCount)
}

func TestPnLConsistencyAtClose(t *testing.T) {
	d, quotes, _ := newTestDesk(t)

	res, err := d.OpenPosition("alice", "BTC/USD", ledger.SideSell, dec(t, "0.1"), OrderMarket, nil)
	require.NoError(t, err)

	quotes.set("BTC/USD", 41500)
	before, err := d.UnrealizedPnL(res.Position.ID)
	require.NoError(t, err)

	closed, err := d.ClosePosition(res.Position.ID)
	require.NoError(t, err)
	assert.True(t, closed.Position.RealizedPnL.Equal(before),
		"unrealized %s vs realized %s", before, closed.Position.RealizedPnL)
}

func TestOpenRollsBackOnStoreFailure(t *testing.T) {
	d, _, j := newTestDesk(t)

	j.fail = true
	_, err := d.OpenPosition("alice", "BTC/USD", ledger.SideBuy, dec(t, "0.1"), OrderMarket, nil)
	require.ErrorIs(t, err, ErrStore)

	assert.True(t, d.Balance("alice").Equal(dec(t, "10000")))
	assert.Empty(t, d.ListPositions("alice", nil))

	// The failure is transient from the desk's point of view.
	j.fail = false
	_, err = d.OpenPosition("alice", "BTC/USD", ledger.SideBuy, dec(t, "0.1"), OrderMarket, nil)
	assert.NoError(t, err)
}

func TestCloseRollsBackOnStoreFailure(t *testing.T) {
	d, quotes, j := newTestDesk(t)

	res, err := d.OpenPosition("alice", "BTC/USD", ledger.SideBuy, dec(t, "0.1"), OrderMarket, nil)
	require.NoError(t, err)
	balanceAfterOpen := d.Balance("alice")

	quotes.set("BTC/USD", 43000)
	j.fail = true
	_, err = d.ClosePosition(res.Position.ID)
	require.ErrorIs(t, err, ErrStore)

	assert.True(t, d.Balance("alice").Equal(balanceAfterOpen))
	open := d.ListPositions("alice", statusPtr(ledger.StatusOpen))
	require.Len(t, open, 1)
	assert.Equal(t, res.Position.ID, open[0].ID)

	j.fail = false
	closed, err := d.ClosePosition(res.Position.ID)
	require.NoError(t, err)
	assert.True(t, closed.Position.RealizedPnL.Equal(dec(t, "100")))
}

func TestCloseLossFloorsBalanceAtZero(t *testing.T) {
	d, quotes, _ := newTestDesk(t)

	res, err := d.OpenPosition("alice", "BTC/USD", ledger.SideSell, dec(t, "0.1"), OrderMarket, nil)
	require.NoError(t, err)

	// A short losing more than the remaining balance.
	quotes.set("BTC/USD", 150000)
	closed, err := d.ClosePosition(res.Position.ID)
	require.NoError(t, err)

	assert.True(t, closed.Position.RealizedPnL.Equal(dec(t, "-10800")))
	assert.True(t, closed.Balance.IsZero())
	assert.False(t, d.Balance("alice").IsNegative())
}

func TestConcurrentOpensJointlyUnaffordable(t *testing.T) {
	quotes := newStubQuotes()
	j := &flakyJournal{Memory: journal.NewMemory()}
	d := New(Config{
		Quotes:   quotes,
		Journal:  j,
		FeeRate:  decimal.NewFromFloat(0.003),
		Currency: "USD",
	})
	// Each open costs 4,212.60: individually affordable, jointly not.
	_, err := d.Deposit("alice", "USD", dec(t, "5000"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.OpenPosition("alice", "BTC/USD", ledger.SideBuy, dec(t, "0.1"), OrderMarket, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrInsufficientFunds):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.True(t, d.Balance("alice").Equal(dec(t, "787.4")), "got %s", d.Balance("alice"))
	assert.Len(t, d.ListPositions("alice", nil), 1)
}

func TestConcurrentUsersProceedIndependently(t *testing.T) {
	d, _, _ := newTestDesk(t)
	_, err := d.Deposit("bob", "USD", dec(t, "10000"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				res, err := d.OpenPosition(u, "BTC/USD", ledger.SideBuy, dec(t, "0.01"), OrderMarket, nil)
				assert.NoError(t, err)
				_, err = d.ClosePosition(res.Position.ID)
				assert.NoError(t, err)
			}
		}(user)
	}
	wg.Wait()

	for _, user := range []string{"alice", "bob"} {
		assert.False(t, d.Balance(user).IsNegative())
		assert.Empty(t, d.ListPositions(user, statusPtr(ledger.StatusOpen)))
		assert.Len(t, d.ListPositions(user, nil), 10)
	}
}

func TestListPositionsStatusFilter(t *testing.T) {
	d, _, _ := newTestDesk(t)

	r1, err := d.OpenPosition("alice", "BTC/USD", ledger.SideBuy, dec(t, "0.01"), OrderMarket, nil)
	require.NoError(t, err)
	_, err = d.OpenPosition("alice", "BTC/USD", ledger.SideSell, dec(t, "0.02"), OrderMarket, nil)
	require.NoError(t, err)
	_, err = d.ClosePosition(r1.Position.ID)
	require.NoError(t, err)

	assert.Len(t, d.ListPositions("alice", nil), 2)

	open := d.ListPositions("alice", statusPtr(ledger.StatusOpen))
	require.Len(t, open, 1)
	assert.Equal(t, ledger.SideSell, open[0].Side)

	closed := d.ListPositions("alice", statusPtr(ledger.StatusClosed))
	require.Len(t, closed, 1)
	assert.Equal(t, r1.Position.ID, closed[0].ID)
}

func statusPtr(s ledger.Status) *ledger.Status { return &s }
