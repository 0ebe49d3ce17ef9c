package storage

import "context"

// Storage defines the root interface for the entire data layer.
// It composes all available storage operations. Components should depend on the
// more granular interfaces (ItemStore, LedgerStore, etc.) instead of this one.
type Storage interface {
	ItemStore
	UserStore
	LedgerStateStore
	LedgerStore
	ExchangeCacheStore
	TransactionStore
	CompletionStore

	// Close releases the underlying resources.
	Close(ctx context.Context) error
}
