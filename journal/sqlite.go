package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrade/ledger"
)

// SQLite persists the desk's state in a single database file. Decimal
// amounts are stored as TEXT to avoid binary-float drift in the tables.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// Commit writes the entry inside one SQL transaction, so a failure
// leaves the database exactly as before.
func (j *SQLite) Commit(e Entry) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if e.Position != nil {
		if err := upsertPosition(tx, *e.Position); err != nil {
			return err
		}
	}
	if e.Balance != nil {
		_, err := tx.Exec(`
			INSERT INTO balances (user_id, currency, amount)
			VALUES (?, ?, ?)
			ON CONFLICT (user_id, currency) DO UPDATE SET amount = excluded.amount`,
			e.Balance.UserID, e.Balance.Currency, e.Balance.Amount.String(),
		)
		if err != nil {
			return err
		}
	}
	for _, t := range e.Transactions {
		_, err := tx.Exec(`
			INSERT INTO transactions
			(transaction_id, user_id, kind, amount, currency, position_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.UserID, string(t.Kind), t.Amount.String(),
			t.Currency, t.PositionID, t.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func upsertPosition(tx *sql.Tx, p ledger.Position) error {
	var closePrice, realized interface{}
	var closedAt interface{}
	if p.Status == ledger.StatusClosed {
		closePrice = p.ClosePrice.String()
		realized = p.RealizedPnL.String()
		closedAt = p.ClosedAt
	}

	_, err := tx.Exec(`
		INSERT INTO positions
		(position_id, user_id, instrument, side, quantity, entry_price,
		 opened_at, status, close_price, closed_at, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (position_id) DO UPDATE SET
			status = excluded.status,
			close_price = excluded.close_price,
			closed_at = excluded.closed_at,
			realized_pnl = excluded.realized_pnl`,
		p.ID, p.UserID, p.Instrument, string(p.Side),
		p.Quantity.String(), p.EntryPrice.String(), p.OpenedAt,
		string(p.Status), closePrice, closedAt, realized,
	)
	return err
}

func (j *SQLite) Transactions(userID string) ([]ledger.Transaction, error) {
	rows, err := j.db.Query(`
		SELECT transaction_id, user_id, kind, amount, currency, position_id, created_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY transaction_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		var kind, amount string
		var createdAt time.Time
		if err := rows.Scan(&t.ID, &t.UserID, &kind, &amount, &t.Currency, &t.PositionID, &createdAt); err != nil {
			return nil, err
		}
		amt, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad amount %q: %w", t.ID, amount, err)
		}
		t.Kind = ledger.Kind(kind)
		t.Amount = amt
		t.CreatedAt = createdAt
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
