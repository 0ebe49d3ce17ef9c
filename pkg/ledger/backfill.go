package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
)

// EnsureReady makes sure the user's own counters are initialized, running the
// backfill when needed. Items listed in exclude are left out of the recount so
// that the caller can account for them itself.
//
// Concurrent calls for the same user and exclusions inside this process share
// one backfill.
// Across processes the conditional UNINITIALIZED -> INITIALIZING transition
// elects a single writer; losers wait until the ledger turns READY or the
// winner's lease expires and it can be taken over.
func (l *Ledger) EnsureReady(ctx context.Context, userID string, exclude ...string) error {
	key := userID
	if len(exclude) > 0 {
		key += "|" + strings.Join(exclude, ",")
	}
	_, err, _ := l.inflight.Do(key, func() (any, error) {
		return nil, l.ensureReady(ctx, userID, exclude)
	})
	return err
}

func (l *Ledger) ensureReady(ctx context.Context, userID string, exclude []string) error {
	for {
		user, err := l.users.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to read ledger state: %w", err)
		}

		switch state := stateOrDefault(user.LedgerState); state {
		case models.LedgerReady:
			return nil

		case models.LedgerUninitialized:
			err = l.claimAndBackfill(ctx, userID, models.LedgerUninitialized, exclude)

		case models.LedgerInitializing:
			if l.now().Before(user.LedgerLeaseUntil) {
				err = storage.ErrConditionFailed
				break
			}
			slog.Warn("taking over expired ledger lease", "user_id", userID, "lease_until", user.LedgerLeaseUntil)
			err = l.claimAndBackfill(ctx, userID, models.LedgerInitializing, exclude)

		default:
			return fmt.Errorf("user %s has unknown ledger state %q", userID, state)
		}

		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConditionFailed) {
			return err
		}

		// Someone else holds the ledger; wait for it to settle.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// claimAndBackfill moves the ledger into INITIALIZING, recounts the user's items
// and marks it READY. A failed commit hands the ledger back to UNINITIALIZED.
func (l *Ledger) claimAndBackfill(ctx context.Context, userID string, from models.LedgerState, exclude []string) error {
	if err := l.states.TransitionLedgerState(ctx, userID, from, models.LedgerInitializing, l.now().Add(l.lease)); err != nil {
		return err
	}
	slog.Info("backfilling category ledger", "user_id", userID)

	if err := l.backfill(ctx, userID, exclude); err != nil {
		if resetErr := l.states.TransitionLedgerState(ctx, userID, models.LedgerInitializing, models.LedgerUninitialized, time.Time{}); resetErr != nil {
			slog.Error("failed to release ledger after backfill error", "user_id", userID, "error", resetErr)
		}
		return fmt.Errorf("failed to backfill ledger of user %s: %w", userID, err)
	}

	if err := l.states.TransitionLedgerState(ctx, userID, models.LedgerInitializing, models.LedgerReady, time.Time{}); err != nil {
		return fmt.Errorf("failed to mark ledger of user %s ready: %w", userID, err)
	}
	return nil
}

func (l *Ledger) backfill(ctx context.Context, userID string, exclude []string) error {
	items, err := l.items.ListItemsByOwner(ctx, userID)
	if err != nil {
		return err
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	counts := make(map[string]int64)
	for _, item := range items {
		if _, ok := skip[item.Id]; ok {
			continue
		}
		for _, c := range models.NormalizeCategories(item.Categories) {
			counts[c]++
		}
	}

	batch := l.counters.NewCounterBatch()
	if err := l.Reconcile(ctx, batch, models.UserScope(userID), counts); err != nil {
		return err
	}
	for _, category := range sortedKeys(counts) {
		batch.Increment(models.GlobalScope, category, counts[category])
	}
	return batch.Commit(ctx)
}

// ReleaseStale resets ledgers stuck in INITIALIZING past their lease so the next
// item write reruns the backfill. It returns the number of ledgers released.
func (l *Ledger) ReleaseStale(ctx context.Context) (int, error) {
	stale, err := l.states.ListStaleLedgers(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list stale ledgers: %w", err)
	}

	released := 0
	for _, user := range stale {
		err := l.states.TransitionLedgerState(ctx, user.Id, models.LedgerInitializing, models.LedgerUninitialized, time.Time{})
		if errors.Is(err, storage.ErrConditionFailed) {
			// Finished or taken over since the scan.
			continue
		}
		if err != nil {
			return released, fmt.Errorf("failed to release ledger of user %s: %w", user.Id, err)
		}
		slog.Info("released stale ledger", "user_id", user.Id, "lease_until", user.LedgerLeaseUntil)
		released++
	}
	return released, nil
}
