package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
	`CREATE TABLE IF NOT EXISTS apps (
		id SERIAL PRIMARY KEY,
		app_id UUID DEFAULT gen_random_uuid() UNIQUE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		nillion_user_id TEXT UNIQUE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS topics (
		id SERIAL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS secrets (
		id SERIAL PRIMARY KEY,
		nillion_user_id TEXT NOT NULL REFERENCES users(nillion_user_id) ON DELETE CASCADE,
		store_id TEXT NOT NULL,
		secret_name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		ttl_expires_at TIMESTAMPTZ NOT NULL DEFAULT (CURRENT_TIMESTAMP + INTERVAL '30 days')
	)`,
	`CREATE TABLE IF NOT EXISTS secret_topics (
		secret_id INTEGER NOT NULL REFERENCES secrets(id) ON DELETE CASCADE,
		topic_id INTEGER NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
		PRIMARY KEY (secret_id, topic_id)
	)`,
	`CREATE TABLE IF NOT EXISTS secret_count (
		total_records INT NOT NULL DEFAULT 0
	)`,
	`INSERT INTO secret_count (total_records)
		SELECT 0 WHERE NOT EXISTS (SELECT 1 FROM secret_count)`,
	`CREATE TABLE IF NOT EXISTS secret_operations (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		nillion_user_id TEXT NOT NULL DEFAULT '',
		app_id TEXT NOT NULL DEFAULT '',
		store_id TEXT NOT NULL DEFAULT '',
		secret_name TEXT NOT NULL DEFAULT '',
		tx_hash TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS secret_operations_status_created_idx
		ON secret_operations (status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		operation_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		nillion_user_id TEXT NOT NULL DEFAULT '',
		app_id TEXT NOT NULL DEFAULT '',
		store_id TEXT NOT NULL DEFAULT '',
		secret_name TEXT NOT NULL DEFAULT '',
		tx_hash TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		client_ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
}

// Tables listed in drop order.
var sharedTables = []string{
	"secret_topics",
	"secrets",
	"topics",
	"secret_count",
	"secret_operations",
	"audit_events",
}

// Migrate creates the shared tables. Safe to run repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// DropTables removes every table Migrate and CreateApp create, including the
// per-app record tables. It returns the names it dropped.
func DropTables(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var dropped []string

	appTables, err := appTableNames(ctx, tx)
	if err != nil {
		return nil, err
	}

	for _, name := range slices.Concat(sharedTables, appTables, []string{"apps", "users"}) {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
			return nil, fmt.Errorf("drop %s: %w", name, err)
		}

		dropped = append(dropped, name)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return dropped, nil
}

func appTableNames(ctx context.Context, tx pgx.Tx) ([]string, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT to_regclass('apps') IS NOT NULL`).Scan(&exists); err != nil {
		return nil, err
	}

	if !exists {
		return nil, nil
	}

	rows, err := tx.Query(ctx, `SELECT app_id::text FROM apps`)
	if err != nil {
		return nil, err
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(ids))

	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}

		names = append(names, appTableName(id))
	}

	return names, nil
}

// appTableName is the per-app record table. The id is a parsed UUID, so the
// name is always a valid identifier once quoted.
func appTableName(appID uuid.UUID) string {
	return "store_ids_" + appID.String()
}

func quotedAppTable(appID uuid.UUID) string {
	return pgx.Identifier{appTableName(appID)}.Sanitize()
}
