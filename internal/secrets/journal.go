package secrets

import (
	"context"
	"time"
)

type OperationKind string

const (
	OpStore    OperationKind = "store"
	OpRetrieve OperationKind = "retrieve"
	OpUpdate   OperationKind = "update"
)

// OperationStatus tracks a paid operation from intent to outcome.
//
//	pending -> failed                  (quote or payment failed, nothing spent)
//	pending -> paid -> unfulfilled     (paid, remote call failed)
//	pending -> paid -> orphaned        (remote succeeded, local bookkeeping failed)
//	pending -> paid -> committed
type OperationStatus string

const (
	StatusPending     OperationStatus = "pending"
	StatusPaid        OperationStatus = "paid"
	StatusCommitted   OperationStatus = "committed"
	StatusOrphaned    OperationStatus = "orphaned"
	StatusUnfulfilled OperationStatus = "unfulfilled"
	StatusFailed      OperationStatus = "failed"
)

// Valid reports whether s is a known status.
func (s OperationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCommitted, StatusOrphaned, StatusUnfulfilled, StatusFailed:
		return true
	default:
		return false
	}
}

// Operation is one journal entry.
type Operation struct {
	ID            string
	Kind          OperationKind
	Status        OperationStatus
	NillionUserID string
	AppID         string
	StoreID       string
	SecretName    string
	TxHash        string
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Journal persists operations so paid-but-unfinished work is discoverable.
type Journal interface {
	// Save inserts the operation or overwrites the entry with the same ID.
	Save(ctx context.Context, op *Operation) error
	// List returns the newest operations first; an empty status matches all.
	List(ctx context.Context, status OperationStatus, limit int) ([]Operation, error)
}
