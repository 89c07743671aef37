package journal

// Schema creates the journal tables. ULID primary keys keep rows in
// chronological order.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	run_id      TEXT NOT NULL,
	order_id    TEXT NOT NULL,
	stage       TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	quantity    REAL NOT NULL,
	order_type  TEXT NOT NULL,
	limit_price REAL,
	state       TEXT NOT NULL,
	time        TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, order_id)
);

CREATE TABLE IF NOT EXISTS fills (
	run_id   TEXT NOT NULL,
	order_id TEXT NOT NULL,
	symbol   TEXT NOT NULL,
	side     TEXT NOT NULL,
	quantity REAL NOT NULL,
	price    REAL NOT NULL,
	time     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_run ON fills(run_id);
`
