package repository

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_accounts (
	address    BYTEA PRIMARY KEY,
	owner      BYTEA NOT NULL,
	lamports   BIGINT NOT NULL CHECK (lamports >= 0),
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_receipts (
	id           TEXT PRIMARY KEY,
	sequence     BIGINT NOT NULL UNIQUE,
	kind         TEXT NOT NULL,
	hash         BYTEA NOT NULL,
	body         JSONB NOT NULL,
	committed_at TIMESTAMPTZ NOT NULL
);
`

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_accounts (
		address    BLOB PRIMARY KEY,
		owner      BLOB NOT NULL,
		lamports   INTEGER NOT NULL,
		data       BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_receipts (
		id           TEXT PRIMARY KEY,
		sequence     INTEGER NOT NULL UNIQUE,
		kind         TEXT NOT NULL,
		hash         BLOB NOT NULL,
		body         TEXT NOT NULL,
		committed_at TEXT NOT NULL
	)`,
}
