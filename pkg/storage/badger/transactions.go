package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/dgraph-io/badger/v4"
)

// CreateTransaction inserts tx and takes one of the item's open slots in the same Badger transaction.
func (s *Store) CreateTransaction(ctx context.Context, tx *models.Transaction, maxOpen int) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var item models.Item
		if err := getJSON(txn, itemKey(tx.ItemId), &item); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("item with ID %s: %w", tx.ItemId, storage.ErrNotFound)
			}
			return err
		}
		if item.OpenTransactions >= maxOpen {
			return storage.ErrCapacityExceeded
		}
		found, err := exists(txn, txKey(tx.Id))
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("transaction %s already exists: %w", tx.Id, storage.ErrConflict)
		}

		item.OpenTransactions++
		if err := setJSON(txn, itemKey(item.Id), &item); err != nil {
			return err
		}
		if err := setJSON(txn, txKey(tx.Id), tx); err != nil {
			return err
		}
		if err := txn.Set(txByItemKey(tx.ItemId, tx.Id), nil); err != nil {
			return err
		}
		return txn.Set(txByRequestorKey(tx.RequestorId, tx.Id), nil)
	})
	if err != nil {
		if errors.Is(err, storage.ErrCapacityExceeded) {
			return storage.ErrCapacityExceeded
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by its ID.
func (s *Store) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, txKey(txID), &tx)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("transaction with ID %s: %w", txID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

// UpdateTransactionStatus moves tx from one status to another, releasing the item's
// open slot when the target is terminal.
func (s *Store) UpdateTransactionStatus(ctx context.Context, tx *models.Transaction, from, to models.TransactionStatus) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		stored, err := loadForTransition(txn, tx.Id, from)
		if err != nil {
			return err
		}
		stored.Status = to
		stored.UpdatedAt = tx.UpdatedAt
		if err := setJSON(txn, txKey(stored.Id), stored); err != nil {
			return err
		}
		if !to.IsTerminal() {
			return nil
		}
		return s.releaseSlot(txn, stored.ItemId, nil)
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidStateTransition) {
			return storage.ErrInvalidStateTransition
		}
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	tx.Status = to
	return nil
}

// CompleteTransaction finishes the receive step and hands the item over atomically.
func (s *Store) CompleteTransaction(ctx context.Context, tx *models.Transaction, handover models.ItemHandover) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		stored, err := loadForTransition(txn, tx.Id, models.TRANSFERRED)
		if err != nil {
			return err
		}
		stored.Status = models.COMPLETED
		stored.UpdatedAt = tx.UpdatedAt
		if err := setJSON(txn, txKey(stored.Id), stored); err != nil {
			return err
		}
		return s.releaseSlot(txn, stored.ItemId, &handover)
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidStateTransition) {
			return storage.ErrInvalidStateTransition
		}
		return fmt.Errorf("failed to complete transaction: %w", err)
	}
	tx.Status = models.COMPLETED
	return nil
}

// ListTransactionsByItem retrieves every transaction for an item, oldest first.
func (s *Store) ListTransactionsByItem(ctx context.Context, itemID string) ([]models.Transaction, error) {
	txs, err := s.transactionsByIndex(txsByItemPrefix(itemID))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions by item: %w", err)
	}
	return txs, nil
}

// ListTransactionsByRequestor retrieves every transaction created by a user, oldest first.
func (s *Store) ListTransactionsByRequestor(ctx context.Context, requestorID string) ([]models.Transaction, error) {
	txs, err := s.transactionsByIndex(txsByRequestorPrefix(requestorID))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions by requestor: %w", err)
	}
	return txs, nil
}

func (s *Store) transactionsByIndex(prefix string) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.View(func(txn *badger.Txn) error {
		return scanKeys(txn, prefix, func(id string) error {
			var tx models.Transaction
			if err := getJSON(txn, txKey(id), &tx); err != nil {
				return fmt.Errorf("index points at transaction %s: %w", id, err)
			}
			txs = append(txs, tx)
			return nil
		})
	})
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })
	return txs, err
}

func loadForTransition(txn *badger.Txn, txID string, from models.TransactionStatus) (*models.Transaction, error) {
	var stored models.Transaction
	if err := getJSON(txn, txKey(txID), &stored); err != nil {
		return nil, err
	}
	if stored.Status != from {
		return nil, storage.ErrInvalidStateTransition
	}
	return &stored, nil
}

// releaseSlot decrements the item's open transaction count and applies an optional handover.
func (s *Store) releaseSlot(txn *badger.Txn, itemID string, handover *models.ItemHandover) error {
	var item models.Item
	if err := getJSON(txn, itemKey(itemID), &item); err != nil {
		return err
	}
	old := item
	if item.OpenTransactions > 0 {
		item.OpenTransactions--
	}
	if handover != nil {
		item.HolderId = handover.HolderId
		item.Location = handover.Location
		item.Geohash = handover.Geohash
		item.UpdatedAt = s.now()
	}
	return putItem(txn, &old, &item)
}
