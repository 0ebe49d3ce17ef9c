package storage

import (
	"context"

	"github.com/chris/community-lending/pkg/models"
)

// DefaultMaxOpenTransactions is the number of non-terminal transactions an item may have.
const DefaultMaxOpenTransactions = 2

// TransactionReader defines the interface for reading transaction data.
type TransactionReader interface {
	// GetTransaction retrieves a transaction by its ID.
	GetTransaction(ctx context.Context, txID string) (*models.Transaction, error)

	// ListTransactionsByItem retrieves every transaction requesting an item.
	ListTransactionsByItem(ctx context.Context, itemID string) ([]models.Transaction, error)

	// ListTransactionsByRequestor retrieves every transaction created by a user.
	ListTransactionsByRequestor(ctx context.Context, requestorID string) ([]models.Transaction, error)
}

// TransactionManager defines the interface for creating and advancing transactions.
type TransactionManager interface {
	// CreateTransaction inserts tx and reserves one of the item's open slots in the same
	// atomic write. It returns ErrCapacityExceeded when maxOpen slots are taken and
	// ErrNotFound when the item does not exist.
	CreateTransaction(ctx context.Context, tx *models.Transaction, maxOpen int) error

	// UpdateTransactionStatus moves a transaction from one status to another. Moving to a
	// terminal status releases the item's open slot in the same atomic write. It returns
	// ErrInvalidStateTransition when the stored status is not from.
	UpdateTransactionStatus(ctx context.Context, tx *models.Transaction, from, to models.TransactionStatus) error
}

// TransactionStore combines the reader and manager interfaces.
type TransactionStore interface {
	TransactionReader
	TransactionManager
}
