package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migrations holds the schema statements. SQLite executes one statement
// at a time, so each entry is a single statement.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS credits_accounts (
		id           TEXT PRIMARY KEY,
		user_id      INTEGER NOT NULL,
		vendor_id    INTEGER NOT NULL,
		service_type TEXT NOT NULL DEFAULT '',
		balance      INTEGER NOT NULL DEFAULT 0,
		created_at   TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_accounts_identity
		ON credits_accounts (user_id, vendor_id, service_type)`,

	`CREATE TABLE IF NOT EXISTS credits_transactions (
		id          TEXT PRIMARY KEY,
		account_id  TEXT NOT NULL REFERENCES credits_accounts (id),
		kind        TEXT NOT NULL,
		amount      INTEGER NOT NULL,
		reference   TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_by  INTEGER NOT NULL DEFAULT 0,
		expires_at  TIMESTAMP,
		links       TEXT NOT NULL DEFAULT '[]',
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credits_transactions_account
		ON credits_transactions (account_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_credits_transactions_expiry
		ON credits_transactions (expires_at)`,

	`CREATE TABLE IF NOT EXISTS credits_coupons (
		id         TEXT PRIMARY KEY,
		code       TEXT NOT NULL,
		user_id    INTEGER NOT NULL,
		vendor_id  INTEGER NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		kind       TEXT NOT NULL DEFAULT 'fixed',
		value      INTEGER NOT NULL DEFAULT 0,
		expires_at TIMESTAMP NOT NULL,
		used       INTEGER NOT NULL DEFAULT 0,
		used_at    TIMESTAMP,
		order_ref  TEXT NOT NULL DEFAULT '',
		created_by INTEGER NOT NULL DEFAULT 0,
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_coupons_code ON credits_coupons (code)`,
	`CREATE INDEX IF NOT EXISTS idx_credits_coupons_user ON credits_coupons (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_credits_coupons_vendor ON credits_coupons (vendor_id)`,
	`CREATE INDEX IF NOT EXISTS idx_credits_coupons_session ON credits_coupons (session_id)`,

	`CREATE TABLE IF NOT EXISTS credits_tokens (
		id         TEXT PRIMARY KEY,
		coupon_id  TEXT NOT NULL,
		user_id    INTEGER NOT NULL,
		vendor_id  INTEGER NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMP NOT NULL,
		used       INTEGER NOT NULL DEFAULT 0,
		used_at    TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credits_tokens_expiry ON credits_tokens (expires_at)`,

	`CREATE TABLE IF NOT EXISTS credits_security_log (
		id          TEXT PRIMARY KEY,
		occurred_at TIMESTAMP NOT NULL,
		user_id     INTEGER NOT NULL DEFAULT 0,
		ip          TEXT NOT NULL DEFAULT '',
		event       TEXT NOT NULL,
		details     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credits_security_log_ip
		ON credits_security_log (ip, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_credits_security_log_time
		ON credits_security_log (occurred_at)`,

	`CREATE TABLE IF NOT EXISTS credits_blocked_ips (
		ip         TEXT PRIMARY KEY,
		blocked_at TIMESTAMP NOT NULL
	)`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range Migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("credits/sqlite: migration statement %d: %w", i, err)
		}
	}
	return nil
}
