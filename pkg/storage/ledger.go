package storage

import (
	"context"

	"github.com/chris/community-lending/pkg/models"
)

// DefaultCounterBatchSize is the number of counter rows committed atomically per chunk.
const DefaultCounterBatchSize = 20

// CounterOrder selects the sort key of a top-N counter read.
type CounterOrder int

const (
	OrderByCount CounterOrder = iota
	OrderByRecency
)

// CounterBatch accumulates counter mutations and commits them atomically in chunks.
// Mutations on the same (scope, category) coalesce into one net operation.
type CounterBatch interface {
	// Increment adds amount to the counter, creating it if absent.
	Increment(scope models.Scope, category string, amount int64)

	// Decrement subtracts amount, deleting the row when the current count is <= amount.
	Decrement(scope models.Scope, category string, amount int64)

	// Set overwrites the counter with count, deleting it when count <= 0.
	Set(scope models.Scope, category string, count int64)

	// Len returns the number of pending rows.
	Len() int

	// Commit writes all pending rows. If a later chunk fails after earlier chunks
	// landed, a *PartialBatchError is returned.
	Commit(ctx context.Context) error
}

// LedgerReader defines the interface for reading counters.
type LedgerReader interface {
	// GetCounter retrieves a single counter row.
	GetCounter(ctx context.Context, scope models.Scope, category string) (*models.CategoryCounter, error)

	// ListCounters retrieves every counter of a scope.
	ListCounters(ctx context.Context, scope models.Scope) ([]models.CategoryCounter, error)

	// TopCounters retrieves up to limit counters of a scope, highest first.
	TopCounters(ctx context.Context, scope models.Scope, order CounterOrder, limit int32) ([]models.CategoryCounter, error)
}

// LedgerStore combines the reader with the batch factory.
type LedgerStore interface {
	LedgerReader

	// NewCounterBatch starts an empty batch.
	NewCounterBatch() CounterBatch
}
