package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/nillion-storage-api/internal/audit"
)

// Postgres appends audit events to the audit_events table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store writing audit events to pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) SaveOperationEvent(ctx context.Context, event *audit.OperationEvent) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO audit_events (
			operation_id, kind, status, nillion_user_id, app_id, store_id,
			secret_name, tx_hash, error, client_ip, user_agent, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		event.OperationID,
		event.Kind,
		event.Status,
		event.NillionUserID,
		event.AppID,
		event.StoreID,
		event.SecretName,
		event.TxHash,
		event.Error,
		event.ClientIP,
		event.UserAgent,
		event.OccurredAt,
	)

	return err
}

// Compile-time check.
var _ audit.Store = (*Postgres)(nil)
