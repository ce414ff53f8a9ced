package secrets

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the relational bookkeeping for users, apps and store records.
type Repository interface {
	UpsertUser(ctx context.Context, nillionUserID string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// CreateApp registers a new app and creates its record table.
	CreateApp(ctx context.Context) (uuid.UUID, error)
	ListApps(ctx context.Context) ([]App, error)
	AppExists(ctx context.Context, appID uuid.UUID) (bool, error)

	// SaveAppRecord registers the owner if needed and inserts the record in
	// one transaction.
	SaveAppRecord(ctx context.Context, appID uuid.UUID, rec *StoreRecord) error
	FindAppRecord(ctx context.Context, appID uuid.UUID, storeID string) (*StoreRecord, error)
	UpdateAppRecord(
		ctx context.Context, appID uuid.UUID, storeID, secretName string, ttlExpiresAt time.Time,
	) (*StoreRecord, error)
	ListAppRecords(ctx context.Context, appID uuid.UUID, page Page) ([]StoreRecord, error)

	// SaveUserSecret stores a topic-tagged record and bumps the secret count.
	SaveUserSecret(ctx context.Context, rec *StoreRecord, topics []string) error
	ListTopicRecords(ctx context.Context, topic string, page Page) ([]StoreRecord, error)
	// SecretCount is the running total of topic-tagged secrets.
	SecretCount(ctx context.Context) (int64, error)
}
