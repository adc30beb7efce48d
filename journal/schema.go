package journal

const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	position_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	status TEXT NOT NULL,
	close_price TEXT,
	closed_at DATETIME,
	realized_pnl TEXT
);

CREATE INDEX IF NOT EXISTS idx_positions_user ON positions(user_id);

CREATE TABLE IF NOT EXISTS balances (
	user_id TEXT NOT NULL,
	currency TEXT NOT NULL,
	amount TEXT NOT NULL,
	PRIMARY KEY (user_id, currency)
);

CREATE TABLE IF NOT EXISTS transactions (
	transaction_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	amount TEXT NOT NULL,
	currency TEXT NOT NULL,
	position_id TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
`
