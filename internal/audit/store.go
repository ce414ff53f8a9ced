package audit

import "context"

// Store persists audit events.
type Store interface {
	SaveOperationEvent(ctx context.Context, event *OperationEvent) error
}
