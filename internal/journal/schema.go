package journal

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id   TEXT PRIMARY KEY,
	entry_unix INTEGER NOT NULL,
	symbol     TEXT NOT NULL,
	action     TEXT NOT NULL,
	ticket     INTEGER NOT NULL,
	magic      INTEGER NOT NULL,
	closed     INTEGER NOT NULL DEFAULT 0,
	exit_reason TEXT NOT NULL,
	realized_pl REAL NOT NULL DEFAULT 0,
	data       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_entry ON trades(entry_unix);
CREATE INDEX IF NOT EXISTS idx_trades_ticket ON trades(ticket, closed);
`
