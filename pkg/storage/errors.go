package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an item, user or transaction id does not resolve.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized is returned when the actor lacks the owner/holder/requestor relationship
// an operation requires.
var ErrUnauthorized = errors.New("actor is not authorized for this operation")

// ErrInvalidStateTransition is returned when a transaction is not in the source state a
// transition requires, or is already terminal.
var ErrInvalidStateTransition = errors.New("invalid transaction state transition")

// ErrCapacityExceeded is returned when an item already has the maximum number of open transactions.
var ErrCapacityExceeded = errors.New("item has too many open transactions")

// ErrUninitializedLedger is returned when a user's category counters are touched before backfill.
var ErrUninitializedLedger = errors.New("category ledger not initialized for user")

// ErrConditionFailed is returned when a conditional write lost a race.
var ErrConditionFailed = errors.New("conditional write failed")

// ErrConflict is returned when a write would violate an invariant, e.g. deleting an item
// with open transactions or creating a duplicate id.
var ErrConflict = errors.New("conflict")

// ErrInvalidInput is returned for malformed or semantically invalid arguments.
var ErrInvalidInput = errors.New("invalid input")

// ErrPartialBatch is matched by PartialBatchError.
var ErrPartialBatch = errors.New("batch partially committed")

// PartialBatchError reports a multi-chunk commit that failed after some chunks landed.
// Committed chunks are not rolled back.
type PartialBatchError struct {
	Committed int
	Total     int
	Err       error
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("batch partially committed (%d of %d operations): %v", e.Committed, e.Total, e.Err)
}

func (e *PartialBatchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPartialBatch) match.
func (e *PartialBatchError) Is(target error) bool { return target == ErrPartialBatch }
