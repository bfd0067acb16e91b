package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type migration struct {
	Version string
	Name    string
	Up      string
}

// Migrations is the ordered schema history for the credits store.
var Migrations = []migration{
	{
		Version: "20240101000001",
		Name:    "create_credits_accounts",
		Up: `
CREATE TABLE IF NOT EXISTS credits_accounts (
    id           TEXT PRIMARY KEY,
    user_id      BIGINT NOT NULL,
    vendor_id    BIGINT NOT NULL,
    service_type TEXT NOT NULL DEFAULT '',
    balance      BIGINT NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_accounts_identity
    ON credits_accounts (user_id, vendor_id, service_type);
CREATE INDEX IF NOT EXISTS idx_credits_accounts_user ON credits_accounts (user_id);
`,
	},
	{
		Version: "20240101000002",
		Name:    "create_credits_transactions",
		Up: `
CREATE TABLE IF NOT EXISTS credits_transactions (
    id          TEXT PRIMARY KEY,
    account_id  TEXT NOT NULL REFERENCES credits_accounts (id),
    kind        TEXT NOT NULL,
    amount      BIGINT NOT NULL,
    reference   TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    created_by  BIGINT NOT NULL DEFAULT 0,
    expires_at  TIMESTAMPTZ,
    links       JSONB NOT NULL DEFAULT '[]',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_credits_transactions_account
    ON credits_transactions (account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_credits_transactions_expiry
    ON credits_transactions (expires_at) WHERE expires_at IS NOT NULL;
`,
	},
	{
		Version: "20240101000003",
		Name:    "create_credits_coupons",
		Up: `
CREATE TABLE IF NOT EXISTS credits_coupons (
    id         TEXT PRIMARY KEY,
    code       TEXT NOT NULL,
    user_id    BIGINT NOT NULL,
    vendor_id  BIGINT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL DEFAULT 'fixed',
    value      BIGINT NOT NULL DEFAULT 0,
    expires_at TIMESTAMPTZ NOT NULL,
    used       BOOLEAN NOT NULL DEFAULT FALSE,
    used_at    TIMESTAMPTZ,
    order_ref  TEXT NOT NULL DEFAULT '',
    created_by BIGINT NOT NULL DEFAULT 0,
    metadata   JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_coupons_code ON credits_coupons (code);
CREATE INDEX IF NOT EXISTS idx_credits_coupons_user ON credits_coupons (user_id);
CREATE INDEX IF NOT EXISTS idx_credits_coupons_vendor ON credits_coupons (vendor_id);
CREATE INDEX IF NOT EXISTS idx_credits_coupons_session ON credits_coupons (session_id);
`,
	},
	{
		Version: "20240101000004",
		Name:    "create_credits_tokens",
		Up: `
CREATE TABLE IF NOT EXISTS credits_tokens (
    id         TEXT PRIMARY KEY,
    coupon_id  TEXT NOT NULL,
    user_id    BIGINT NOT NULL,
    vendor_id  BIGINT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    expires_at TIMESTAMPTZ NOT NULL,
    used       BOOLEAN NOT NULL DEFAULT FALSE,
    used_at    TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_credits_tokens_expiry ON credits_tokens (expires_at);
`,
	},
	{
		Version: "20240101000005",
		Name:    "create_credits_security_log",
		Up: `
CREATE TABLE IF NOT EXISTS credits_security_log (
    id          TEXT PRIMARY KEY,
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    user_id     BIGINT NOT NULL DEFAULT 0,
    ip          TEXT NOT NULL DEFAULT '',
    event       TEXT NOT NULL,
    details     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_credits_security_log_ip
    ON credits_security_log (ip, occurred_at);
CREATE INDEX IF NOT EXISTS idx_credits_security_log_time
    ON credits_security_log (occurred_at);

CREATE TABLE IF NOT EXISTS credits_blocked_ips (
    ip         TEXT PRIMARY KEY,
    blocked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	},
}

// runMigrations applies pending migrations in order, tracking applied
// versions in credits_migrations.
func runMigrations(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS credits_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("credits/postgres: create migration table: %w", err)
	}

	for _, m := range Migrations {
		var applied bool
		err := db.GetContext(ctx, &applied,
			`SELECT EXISTS (SELECT 1 FROM credits_migrations WHERE version = $1)`, m.Version)
		if err != nil {
			return fmt.Errorf("credits/postgres: check migration %s: %w", m.Version, err)
		}
		if applied {
			continue
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("credits/postgres: begin migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			tx.Rollback() //nolint:errcheck // rollback on failure path
			return fmt.Errorf("credits/postgres: apply migration %s (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credits_migrations (version, name) VALUES ($1, $2)`,
			m.Version, m.Name); err != nil {
			tx.Rollback() //nolint:errcheck // rollback on failure path
			return fmt.Errorf("credits/postgres: record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("credits/postgres: commit migration %s: %w", m.Version, err)
		}
	}
	return nil
}
