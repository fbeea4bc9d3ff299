package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Timestamps are unix milliseconds. Amounts that can exceed int64 (token
// base units) are decimal TEXT.
const schema = `
CREATE TABLE IF NOT EXISTS "user" (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	image TEXT,
	minikit_address TEXT,
	farcaster_fid INTEGER,
	farcaster_username TEXT,
	role TEXT NOT NULL DEFAULT 'user',
	banned INTEGER NOT NULL DEFAULT 0,
	ban_reason TEXT,
	ban_expires INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS user_minikit_idx ON "user"(minikit_address);
CREATE UNIQUE INDEX IF NOT EXISTS user_fid_idx ON "user"(farcaster_fid);

CREATE TABLE IF NOT EXISTS session (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES "user"(id) ON DELETE CASCADE,
	token_hash TEXT NOT NULL UNIQUE,
	expires_at INTEGER NOT NULL,
	ip_address TEXT,
	user_agent TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS verification (
	id TEXT PRIMARY KEY,
	identifier TEXT NOT NULL,
	value TEXT NOT NULL UNIQUE,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS wallet_address (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES "user"(id) ON DELETE CASCADE,
	address TEXT NOT NULL,
	chain_id INTEGER NOT NULL,
	is_primary INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE(address, chain_id)
);

CREATE TABLE IF NOT EXISTS tournament (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type INTEGER NOT NULL DEFAULT 0,
	winner TEXT,
	start_date INTEGER NOT NULL,
	end_date INTEGER NOT NULL,
	merkle_root TEXT,
	merkle_values TEXT,
	prize_pool INTEGER NOT NULL DEFAULT 0,
	level_json TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS tournament_type_end_idx ON tournament(type, end_date);

CREATE TABLE IF NOT EXISTS user_prize (
	user_id TEXT NOT NULL REFERENCES "user"(id) ON DELETE CASCADE,
	tournament_id TEXT NOT NULL REFERENCES tournament(id) ON DELETE CASCADE,
	prize TEXT NOT NULL DEFAULT '0',
	attempts INTEGER NOT NULL DEFAULT 0,
	won_at_attempt INTEGER NOT NULL DEFAULT 0,
	deposit_tx_hash TEXT,
	deposit_amount TEXT NOT NULL DEFAULT '0',
	claimed_tx_hash TEXT,
	claimed_amount TEXT NOT NULL DEFAULT '0',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, tournament_id)
);

CREATE TABLE IF NOT EXISTS webhook_event (
	idempotency_key TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	payload TEXT,
	received_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tournament_snapshot (
	tournament_id TEXT PRIMARY KEY,
	state_blob BLOB NOT NULL,
	prev_hash TEXT NOT NULL,
	final_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

func applySchema(conn *sql.DB) error {
	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func initDB() error {
	if dir := filepath.Dir(Config.DatabasePath); dir != "" {
		os.MkdirAll(dir, 0755)
	}

	var err error
	db, err = sql.Open("sqlite3", Config.DatabasePath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return err
	}
	db.Exec("PRAGMA journal_mode=WAL;")

	if err := applySchema(db); err != nil {
		return err
	}
	InfoLog.Printf("[DB] %s ready", Config.DatabasePath)
	return nil
}
