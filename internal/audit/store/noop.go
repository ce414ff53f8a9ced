package store

import (
	"context"

	"github.com/serroba/nillion-storage-api/internal/audit"
	"go.uber.org/zap"
)

// Noop logs audit events instead of persisting them.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a store that only logs audit events.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

func (n *Noop) SaveOperationEvent(_ context.Context, event *audit.OperationEvent) error {
	n.logger.Info("secret operation",
		zap.String("operationId", event.OperationID),
		zap.String("kind", event.Kind),
		zap.String("status", event.Status),
		zap.String("storeId", event.StoreID),
		zap.String("txHash", event.TxHash),
		zap.Time("occurredAt", event.OccurredAt),
	)

	return nil
}

// Compile-time check.
var _ audit.Store = (*Noop)(nil)
