// Package ledger maintains the category counters of the global, per-user,
// per-exchange-point and recommended scopes.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	"golang.org/x/sync/singleflight"
)

// DefaultLease bounds how long a backfill may hold a user's ledger in INITIALIZING.
const DefaultLease = 2 * time.Minute

// UserReader reads the ledger state stored on a user.
type UserReader interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// ItemCategoryReader lists a user's items for the backfill recount.
type ItemCategoryReader interface {
	ListItemsByOwner(ctx context.Context, ownerID string) ([]models.Item, error)
}

// Ledger applies counter mutations through caller-owned batches.
type Ledger struct {
	counters storage.LedgerStore
	states   storage.LedgerStateStore
	users    UserReader
	items    ItemCategoryReader
	lease    time.Duration
	poll     time.Duration
	now      func() time.Time
	inflight singleflight.Group
}

// New creates a Ledger. A non-positive lease falls back to DefaultLease.
func New(counters storage.LedgerStore, states storage.LedgerStateStore, users UserReader, items ItemCategoryReader, lease time.Duration) *Ledger {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Ledger{
		counters: counters,
		states:   states,
		users:    users,
		items:    items,
		lease:    lease,
		poll:     100 * time.Millisecond,
		now:      time.Now,
	}
}

// NewBatch starts a counter batch on the underlying store.
func (l *Ledger) NewBatch() storage.CounterBatch {
	return l.counters.NewCounterBatch()
}

// Increment queues +amount for every category in scope.
func (l *Ledger) Increment(ctx context.Context, batch storage.CounterBatch, scope models.Scope, categories []string, amount int64) error {
	if err := l.requireReady(ctx, scope); err != nil {
		return err
	}
	for _, c := range models.NormalizeCategories(categories) {
		batch.Increment(scope, c, amount)
	}
	return nil
}

// Decrement queues -amount for every category in scope. Rows reaching zero are deleted on commit.
func (l *Ledger) Decrement(ctx context.Context, batch storage.CounterBatch, scope models.Scope, categories []string, amount int64) error {
	if err := l.requireReady(ctx, scope); err != nil {
		return err
	}
	for _, c := range models.NormalizeCategories(categories) {
		batch.Decrement(scope, c, amount)
	}
	return nil
}

// Reconcile overwrites scope with fullCounts. Stored rows missing from fullCounts are removed.
func (l *Ledger) Reconcile(ctx context.Context, batch storage.CounterBatch, scope models.Scope, fullCounts map[string]int64) error {
	existing, err := l.counters.ListCounters(ctx, scope)
	if err != nil {
		return fmt.Errorf("failed to read %s counters: %w", scope, err)
	}
	for _, c := range existing {
		if _, ok := fullCounts[c.Category]; !ok {
			batch.Set(scope, c.Category, 0)
		}
	}
	for _, category := range sortedKeys(fullCounts) {
		batch.Set(scope, category, fullCounts[category])
	}
	return nil
}

// FanOutToExchangePoints mirrors a category change of one of user's items into
// the cache scope of every exchange point the user nominated. Removals are
// queued before additions.
func (l *Ledger) FanOutToExchangePoints(ctx context.Context, batch storage.CounterBatch, user *models.User, added, removed []string) error {
	for _, ep := range user.ExchangePoints {
		scope := models.ExchangePointScope(ep)
		if err := l.Decrement(ctx, batch, scope, removed, 1); err != nil {
			return err
		}
		if err := l.Increment(ctx, batch, scope, added, 1); err != nil {
			return err
		}
	}
	return nil
}

// TopByCount returns the most used categories of scope.
func (l *Ledger) TopByCount(ctx context.Context, scope models.Scope, limit int32) ([]models.CategoryCounter, error) {
	counters, err := l.counters.TopCounters(ctx, scope, storage.OrderByCount, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read top categories: %w", err)
	}
	return counters, nil
}

// TopByRecency returns the most recently touched categories of scope.
func (l *Ledger) TopByRecency(ctx context.Context, scope models.Scope, limit int32) ([]models.CategoryCounter, error) {
	counters, err := l.counters.TopCounters(ctx, scope, storage.OrderByRecency, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent categories: %w", err)
	}
	return counters, nil
}

// HotCategories returns the globally most popular categories.
func (l *Ledger) HotCategories(ctx context.Context, limit int32) ([]models.CategoryCounter, error) {
	return l.TopByCount(ctx, models.GlobalScope, limit)
}

// RecentCategories returns the globally most recently used categories.
func (l *Ledger) RecentCategories(ctx context.Context, limit int32) ([]models.CategoryCounter, error) {
	return l.TopByRecency(ctx, models.GlobalScope, limit)
}

// DefaultCategories returns the recommended categories in seeded order.
func (l *Ledger) DefaultCategories(ctx context.Context) ([]string, error) {
	counters, err := l.TopByCount(ctx, models.RecommendedScope, 0)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(counters))
	for _, c := range counters {
		out = append(out, c.Category)
	}
	return out, nil
}

// SeedDefaults writes the recommended categories when that scope is empty.
// Counts descend so that count order reproduces the configured order.
func (l *Ledger) SeedDefaults(ctx context.Context, categories []string) error {
	categories = models.NormalizeCategories(categories)
	if len(categories) == 0 {
		return nil
	}
	existing, err := l.counters.ListCounters(ctx, models.RecommendedScope)
	if err != nil {
		return fmt.Errorf("failed to read recommended categories: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	batch := l.counters.NewCounterBatch()
	for i, c := range categories {
		batch.Set(models.RecommendedScope, c, int64(len(categories)-i))
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to seed recommended categories: %w", err)
	}
	return nil
}

// requireReady rejects user scopes whose backfill has not completed.
func (l *Ledger) requireReady(ctx context.Context, scope models.Scope) error {
	userID, ok := scope.UserID()
	if !ok {
		return nil
	}
	user, err := l.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to read ledger state: %w", err)
	}
	if user.LedgerState != models.LedgerReady {
		return fmt.Errorf("user %s ledger is %s: %w", userID, stateOrDefault(user.LedgerState), storage.ErrUninitializedLedger)
	}
	return nil
}

func stateOrDefault(s models.LedgerState) models.LedgerState {
	if s == "" {
		return models.LedgerUninitialized
	}
	return s
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsUninitialized reports whether err came from a user scope that still needs a backfill.
func IsUninitialized(err error) bool {
	return errors.Is(err, storage.ErrUninitializedLedger)
}
