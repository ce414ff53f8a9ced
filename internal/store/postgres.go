package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/nillion-storage-api/internal/secrets"
)

// undefinedTable is the SQLSTATE for a missing relation.
const undefinedTable = "42P01"

// PostgresRepository is the PostgreSQL implementation of secrets.Repository.
// Each app owns a table named store_ids_<app uuid>.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository on pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *PostgresRepository) UpsertUser(ctx context.Context, nillionUserID string) (*secrets.User, error) {
	return upsertUser(ctx, p.pool, nillionUserID)
}

func (p *PostgresRepository) ListUsers(ctx context.Context) ([]secrets.User, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, nillion_user_id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (secrets.User, error) {
		var u secrets.User
		err := row.Scan(&u.ID, &u.NillionUserID)

		return u, err
	})
}

func (p *PostgresRepository) CreateApp(ctx context.Context) (uuid.UUID, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw string
	if err := tx.QueryRow(ctx, `INSERT INTO apps DEFAULT VALUES RETURNING app_id::text`).Scan(&raw); err != nil {
		return uuid.Nil, fmt.Errorf("insert app: %w", err)
	}

	appID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, err
	}

	query := `
		CREATE TABLE IF NOT EXISTS ` + quotedAppTable(appID) + ` (
			id SERIAL PRIMARY KEY,
			nillion_user_id TEXT NOT NULL REFERENCES users(nillion_user_id) ON DELETE CASCADE,
			store_id TEXT NOT NULL,
			secret_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ttl_expires_at TIMESTAMPTZ NOT NULL DEFAULT (CURRENT_TIMESTAMP + INTERVAL '30 days')
		)
	`

	if _, err := tx.Exec(ctx, query); err != nil {
		return uuid.Nil, fmt.Errorf("create app table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}

	return appID, nil
}

func (p *PostgresRepository) ListApps(ctx context.Context) ([]secrets.App, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, app_id::text FROM apps ORDER BY id`)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (secrets.App, error) {
		var (
			app secrets.App
			raw string
		)

		if err := row.Scan(&app.ID, &raw); err != nil {
			return app, err
		}

		id, err := uuid.Parse(raw)
		app.AppID = id

		return app, err
	})
}

// AppExists requires both the apps row and the app's table.
func (p *PostgresRepository) AppExists(ctx context.Context, appID uuid.UUID) (bool, error) {
	var exists bool

	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM apps WHERE app_id = $1::uuid)
			AND to_regclass($2) IS NOT NULL
	`, appID.String(), quotedAppTable(appID)).Scan(&exists)

	return exists, err
}

func (p *PostgresRepository) SaveAppRecord(ctx context.Context, appID uuid.UUID, rec *secrets.StoreRecord) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := upsertUser(ctx, tx, rec.NillionUserID); err != nil {
		return err
	}

	query := `
		INSERT INTO ` + quotedAppTable(appID) + ` (nillion_user_id, store_id, secret_name, created_at, ttl_expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err = tx.QueryRow(ctx, query,
		rec.NillionUserID,
		rec.StoreID,
		rec.SecretName,
		rec.CreatedAt,
		rec.TTLExpiresAt,
	).Scan(&rec.ID)
	if err != nil {
		return mapAppTableErr(err)
	}

	return tx.Commit(ctx)
}

func (p *PostgresRepository) FindAppRecord(
	ctx context.Context, appID uuid.UUID, storeID string,
) (*secrets.StoreRecord, error) {
	query := `
		SELECT id, nillion_user_id, store_id, secret_name, created_at, ttl_expires_at
		FROM ` + quotedAppTable(appID) + `
		WHERE store_id = $1
		ORDER BY id
		LIMIT 1
	`

	rec, err := scanRecord(p.pool.QueryRow(ctx, query, storeID))
	if err != nil {
		return nil, mapAppTableErr(err)
	}

	return rec, nil
}

func (p *PostgresRepository) UpdateAppRecord(
	ctx context.Context, appID uuid.UUID, storeID, secretName string, ttlExpiresAt time.Time,
) (*secrets.StoreRecord, error) {
	query := `
		UPDATE ` + quotedAppTable(appID) + `
		SET secret_name = $1, ttl_expires_at = $2
		WHERE store_id = $3
		RETURNING id, nillion_user_id, store_id, secret_name, created_at, ttl_expires_at
	`

	rec, err := scanRecord(p.pool.QueryRow(ctx, query, secretName, ttlExpiresAt, storeID))
	if err != nil {
		return nil, mapAppTableErr(err)
	}

	return rec, nil
}

func (p *PostgresRepository) ListAppRecords(
	ctx context.Context, appID uuid.UUID, page secrets.Page,
) ([]secrets.StoreRecord, error) {
	ok, err := p.AppExists(ctx, appID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, secrets.ErrAppNotFound
	}

	query := `
		SELECT id, nillion_user_id, store_id, secret_name, created_at, ttl_expires_at
		FROM ` + quotedAppTable(appID) + `
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := p.pool.Query(ctx, query, page.Size, page.Offset())
	if err != nil {
		return nil, mapAppTableErr(err)
	}

	return collectRecords(rows)
}

func (p *PostgresRepository) SaveUserSecret(ctx context.Context, rec *secrets.StoreRecord, topics []string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := upsertUser(ctx, tx, rec.NillionUserID); err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO secrets (nillion_user_id, store_id, secret_name, created_at, ttl_expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, rec.NillionUserID, rec.StoreID, rec.SecretName, rec.CreatedAt, rec.TTLExpiresAt).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert secret: %w", err)
	}

	for _, topic := range uniqueTopics(topics) {
		var topicID int64

		err := tx.QueryRow(ctx, `
			INSERT INTO topics (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, topic).Scan(&topicID)
		if err != nil {
			return fmt.Errorf("upsert topic %q: %w", topic, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO secret_topics (secret_id, topic_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, rec.ID, topicID); err != nil {
			return fmt.Errorf("tag secret: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE secret_count SET total_records = total_records + 1`); err != nil {
		return fmt.Errorf("bump secret count: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *PostgresRepository) ListTopicRecords(
	ctx context.Context, topic string, page secrets.Page,
) ([]secrets.StoreRecord, error) {
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM topics WHERE name = $1)`, topic).Scan(&exists); err != nil {
		return nil, err
	}

	if !exists {
		return nil, secrets.ErrTopicNotFound
	}

	rows, err := p.pool.Query(ctx, `
		SELECT s.id, s.nillion_user_id, s.store_id, s.secret_name, s.created_at, s.ttl_expires_at
		FROM secrets s
		JOIN secret_topics st ON st.secret_id = s.id
		JOIN topics t ON t.id = st.topic_id
		WHERE t.name = $1
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT $2 OFFSET $3
	`, topic, page.Size, page.Offset())
	if err != nil {
		return nil, err
	}

	return collectRecords(rows)
}

// SecretCount reads the running total of topic-tagged secrets.
func (p *PostgresRepository) SecretCount(ctx context.Context) (int64, error) {
	var total int64
	err := p.pool.QueryRow(ctx, `SELECT COALESCE(SUM(total_records), 0) FROM secret_count`).Scan(&total)

	return total, err
}

func upsertUser(ctx context.Context, q querier, nillionUserID string) (*secrets.User, error) {
	u := secrets.User{NillionUserID: nillionUserID}

	err := q.QueryRow(ctx, `
		INSERT INTO users (nillion_user_id) VALUES ($1)
		ON CONFLICT (nillion_user_id) DO UPDATE SET nillion_user_id = EXCLUDED.nillion_user_id
		RETURNING id
	`, nillionUserID).Scan(&u.ID)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	return &u, nil
}

func scanRecord(row pgx.Row) (*secrets.StoreRecord, error) {
	var rec secrets.StoreRecord

	err := row.Scan(
		&rec.ID,
		&rec.NillionUserID,
		&rec.StoreID,
		&rec.SecretName,
		&rec.CreatedAt,
		&rec.TTLExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, secrets.ErrStoreIDNotFound
		}

		return nil, err
	}

	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]secrets.StoreRecord, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (secrets.StoreRecord, error) {
		rec, err := scanRecord(row)
		if err != nil {
			return secrets.StoreRecord{}, err
		}

		return *rec, nil
	})
}

// mapAppTableErr turns a missing per-app table into ErrAppNotFound.
func mapAppTableErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return secrets.ErrAppNotFound
	}

	return err
}

// Compile-time check.
var _ secrets.Repository = (*PostgresRepository)(nil)
