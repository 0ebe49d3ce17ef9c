package storage

import (
	"context"

	"github.com/chris/community-lending/pkg/models"
)

// CompletionStore defines the privileged interface for completing a transaction.
// It writes both the transaction and the item it hands over, so it should only be
// exposed to the component that owns the receive step.
type CompletionStore interface {
	// CompleteTransaction moves tx from TRANSFERRED to COMPLETED, applies the handover
	// to the item and releases the item's open slot atomically.
	CompleteTransaction(ctx context.Context, tx *models.Transaction, handover models.ItemHandover) error
}
