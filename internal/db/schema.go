package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates missing tables on startup. It never alters existing
// ones; real migrations are out of scope.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			first_name    TEXT,
			ton_nano      BIGINT NOT NULL DEFAULT 0,
			lvl_upgrade   DOUBLE PRECISION NOT NULL DEFAULT 0,
			lvl           INTEGER NOT NULL DEFAULT 1,
			coin_cents    BIGINT NOT NULL DEFAULT 10000,
			bezoz_cents   BIGINT NOT NULL DEFAULT 1000,
			ref_count     INTEGER NOT NULL DEFAULT 0,
			ref_id        TEXT,
			is_premium    SMALLINT NOT NULL DEFAULT 0,
			blocked       SMALLINT NOT NULL DEFAULT 0,
			time_farm     TEXT NOT NULL DEFAULT '',
			seed_count    TEXT NOT NULL DEFAULT '',
			storage_count TEXT NOT NULL DEFAULT '',
			grid_count    INTEGER NOT NULL DEFAULT 3,
			grid_state    TEXT NOT NULL DEFAULT '',
			houses        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id               BIGSERIAL PRIMARY KEY,
			name             TEXT NOT NULL,
			type             TEXT NOT NULL DEFAULT '',
			price_nano       BIGINT NOT NULL,
			sell_price_nano  BIGINT NOT NULL,
			speed_price_nano BIGINT NOT NULL,
			lvl_for_buy      INTEGER NOT NULL DEFAULT 1,
			grow_seconds     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id          BIGSERIAL PRIMARY KEY,
			tx_group_id UUID NOT NULL,
			player_id   TEXT NOT NULL,
			player_name TEXT,
			action      TEXT NOT NULL,
			amount_nano BIGINT,
			currency    TEXT,
			details     TEXT,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS transactions_player_idx ON transactions (player_id)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			player_id  TEXT NOT NULL,
			key        TEXT NOT NULL,
			action     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (player_id, key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
