package journal

import (
	"sync"

	"github.com/rustyeddy/papertrade/ledger"
)

// Memory keeps journal entries in process memory. Suitable for tests
// and ephemeral simulation runs.
type Memory struct {
	mu           sync.Mutex
	positions    map[string]ledger.Position
	balances     map[string]map[string]BalanceUpdate
	transactions []ledger.Transaction
}

func NewMemory() *Memory {
	return &Memory{
		positions: make(map[string]ledger.Position),
		balances:  make(map[string]map[string]BalanceUpdate),
	}
}

func (j *Memory) Commit(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.Position != nil {
		j.positions[e.Position.ID] = *e.Position
	}
	if e.Balance != nil {
		byCur, ok := j.balances[e.Balance.UserID]
		if !ok {
			byCur = make(map[string]BalanceUpdate)
			j.balances[e.Balance.UserID] = byCur
		}
		byCur[e.Balance.Currency] = *e.Balance
	}
	j.transactions = append(j.transactions, e.Transactions...)
	return nil
}

func (j *Memory) Transactions(userID string) ([]ledger.Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []ledger.Transaction
	for _, t := range j.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (j *Memory) Close() error { return nil }
