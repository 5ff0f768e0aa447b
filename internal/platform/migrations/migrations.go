// Package migrations applies the storefront schema. Statements are ordered
// and idempotent; Apply runs them all on every boot.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS store_accounts (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		first_name    TEXT NOT NULL DEFAULT '',
		last_name     TEXT NOT NULL DEFAULT '',
		role          TEXT NOT NULL DEFAULT 'user',
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS store_beats (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		tempo       INTEGER NOT NULL DEFAULT 0,
		musical_key TEXT NOT NULL DEFAULT '',
		genre       TEXT NOT NULL DEFAULT '',
		doc         JSONB NOT NULL DEFAULT '{}',
		plays       BIGINT NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS store_orders (
		id             TEXT PRIMARY KEY,
		order_number   TEXT NOT NULL UNIQUE,
		account_id     TEXT REFERENCES store_accounts(id),
		items          JSONB NOT NULL DEFAULT '[]',
		total_cents    BIGINT NOT NULL DEFAULT 0,
		provider_ref   TEXT NOT NULL UNIQUE,
		status         TEXT NOT NULL DEFAULT 'pending',
		delivery_email TEXT NOT NULL,
		guest          BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS store_grants (
		id             TEXT PRIMARY KEY,
		order_id       TEXT NOT NULL REFERENCES store_orders(id),
		account_id     TEXT REFERENCES store_accounts(id),
		beat_id        TEXT NOT NULL,
		license_type   TEXT NOT NULL,
		download_count INTEGER NOT NULL DEFAULT 0,
		max_downloads  INTEGER NOT NULL DEFAULT 3,
		expires_at     TIMESTAMPTZ NOT NULL,
		files          JSONB NOT NULL DEFAULT '[]',
		contract       JSONB NOT NULL DEFAULT '{}',
		delivery_email TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL,
		CONSTRAINT downloads_within_cap CHECK (download_count <= max_downloads)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_store_orders_account ON store_orders (account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_store_grants_account ON store_grants (account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_store_grants_order ON store_grants (order_id)`,
}

// Apply executes all schema statements in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
