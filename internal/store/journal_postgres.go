package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/nillion-storage-api/internal/secrets"
)

// PostgresJournal stores operations in secret_operations.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal creates a journal on pool.
func NewPostgresJournal(pool *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{pool: pool}
}

func (j *PostgresJournal) Save(ctx context.Context, op *secrets.Operation) error {
	query := `
		INSERT INTO secret_operations (
			id, kind, status, nillion_user_id, app_id, store_id, secret_name, tx_hash, error, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			store_id = EXCLUDED.store_id,
			secret_name = EXCLUDED.secret_name,
			tx_hash = EXCLUDED.tx_hash,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`

	_, err := j.pool.Exec(ctx, query,
		op.ID,
		string(op.Kind),
		string(op.Status),
		op.NillionUserID,
		op.AppID,
		op.StoreID,
		op.SecretName,
		op.TxHash,
		op.Error,
		op.CreatedAt,
		op.UpdatedAt,
	)

	return err
}

func (j *PostgresJournal) List(ctx context.Context, status secrets.OperationStatus, limit int) ([]secrets.Operation, error) {
	if limit <= 0 {
		limit = secrets.DefaultPageSize
	}

	rows, err := j.pool.Query(ctx, `
		SELECT id, kind, status, nillion_user_id, app_id, store_id, secret_name, tx_hash, error, created_at, updated_at
		FROM secret_operations
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (secrets.Operation, error) {
		var (
			op           secrets.Operation
			kind, status string
		)

		err := row.Scan(
			&op.ID, &kind, &status, &op.NillionUserID, &op.AppID, &op.StoreID,
			&op.SecretName, &op.TxHash, &op.Error, &op.CreatedAt, &op.UpdatedAt,
		)
		op.Kind = secrets.OperationKind(kind)
		op.Status = secrets.OperationStatus(status)

		return op, err
	})
}

// Compile-time check.
var _ secrets.Journal = (*PostgresJournal)(nil)
