package store

import (
	"context"
	"slices"
	"sync"

	"github.com/serroba/nillion-storage-api/internal/secrets"
)

// MemoryJournal keeps operations in process.
type MemoryJournal struct {
	mu  sync.RWMutex
	ops map[string]secrets.Operation
}

// NewMemoryJournal creates an empty in-process journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{ops: make(map[string]secrets.Operation)}
}

func (j *MemoryJournal) Save(_ context.Context, op *secrets.Operation) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.ops[op.ID] = *op

	return nil
}

func (j *MemoryJournal) List(_ context.Context, status secrets.OperationStatus, limit int) ([]secrets.Operation, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	ops := make([]secrets.Operation, 0, len(j.ops))

	for _, op := range j.ops {
		if status == "" || op.Status == status {
			ops = append(ops, op)
		}
	}

	slices.SortFunc(ops, func(a, b secrets.Operation) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		if a.ID < b.ID {
			return 1
		}

		if a.ID > b.ID {
			return -1
		}

		return 0
	})

	if limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}

	return ops, nil
}

// Get returns a copy of one operation.
func (j *MemoryJournal) Get(id string) (secrets.Operation, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	op, ok := j.ops[id]

	return op, ok
}

// Compile-time check.
var _ secrets.Journal = (*MemoryJournal)(nil)
