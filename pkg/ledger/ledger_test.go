package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/chris/community-lending/pkg/storage/badger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, *badger.Store) {
	t.Helper()
	store, err := badger.New("", 20)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	l := New(store, store, store, store, time.Minute)
	l.poll = 5 * time.Millisecond
	return l, store
}

func createUser(t *testing.T, store *badger.Store, state models.LedgerState, exchangePoints ...string) *models.User {
	t.Helper()
	user := &models.User{
		Id:             uuid.New().String(),
		Name:           "user",
		Role:           models.RoleUser,
		ExchangePoints: exchangePoints,
		LedgerState:    state,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func createItem(t *testing.T, store *badger.Store, owner string, categories ...string) *models.Item {
	t.Helper()
	item := &models.Item{
		Id:         uuid.New().String(),
		OwnerId:    owner,
		Title:      "item",
		Categories: categories,
		Status:     models.AVAILABLE,
		Geohash:    "u33dc0cpke",
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.CreateItem(context.Background(), item))
	return item
}

func counts(t *testing.T, store *badger.Store, scope models.Scope) map[string]int64 {
	t.Helper()
	rows, err := store.ListCounters(context.Background(), scope)
	require.NoError(t, err)
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Category] = r.Count
	}
	return out
}

func TestIncrementDecrement(t *testing.T) {
	ctx := context.Background()

	t.Run("Global Scope Needs No Backfill", func(t *testing.T) {
		l, store := newTestLedger(t)
		batch := l.NewBatch()
		require.NoError(t, l.Increment(ctx, batch, models.GlobalScope, []string{"Books", "Tools", "Books"}, 1))
		require.NoError(t, batch.Commit(ctx))
		assert.Equal(t, map[string]int64{"Books": 1, "Tools": 1}, counts(t, store, models.GlobalScope))
	})

	t.Run("Decrement To Zero Deletes Row", func(t *testing.T) {
		l, store := newTestLedger(t)
		batch := l.NewBatch()
		require.NoError(t, l.Increment(ctx, batch, models.GlobalScope, []string{"Books"}, 2))
		require.NoError(t, batch.Commit(ctx))

		batch = l.NewBatch()
		require.NoError(t, l.Decrement(ctx, batch, models.GlobalScope, []string{"Books"}, 1))
		require.NoError(t, batch.Commit(ctx))
		assert.Equal(t, map[string]int64{"Books": 1}, counts(t, store, models.GlobalScope))

		batch = l.NewBatch()
		require.NoError(t, l.Decrement(ctx, batch, models.GlobalScope, []string{"Books"}, 5))
		require.NoError(t, batch.Commit(ctx))
		assert.Empty(t, counts(t, store, models.GlobalScope))
	})

	t.Run("Decrement Floors Before Later Increment", func(t *testing.T) {
		l, store := newTestLedger(t)
		batch := l.NewBatch()
		require.NoError(t, l.Increment(ctx, batch, models.GlobalScope, []string{"Tools"}, 1))
		require.NoError(t, batch.Commit(ctx))

		batch = l.NewBatch()
		require.NoError(t, l.Decrement(ctx, batch, models.GlobalScope, []string{"Books"}, 1))
		require.NoError(t, l.Increment(ctx, batch, models.GlobalScope, []string{"Books"}, 1))
		require.NoError(t, l.Decrement(ctx, batch, models.GlobalScope, []string{"Tools"}, 3))
		require.NoError(t, l.Increment(ctx, batch, models.GlobalScope, []string{"Tools"}, 1))
		require.NoError(t, batch.Commit(ctx))

		assert.Equal(t, map[string]int64{"Books": 1, "Tools": 1}, counts(t, store, models.GlobalScope))
	})

	t.Run("Uninitialized User Scope Is Rejected", func(t *testing.T) {
		l, store := newTestLedger(t)
		user := createUser(t, store, models.LedgerUninitialized)

		batch := l.NewBatch()
		err := l.Increment(ctx, batch, models.UserScope(user.Id), []string{"Books"}, 1)

		assert.ErrorIs(t, err, storage.ErrUninitializedLedger)
		assert.True(t, IsUninitialized(err))
		assert.Equal(t, 0, batch.Len())
	})

	t.Run("Ready User Scope Accepted", func(t *testing.T) {
		l, store := newTestLedger(t)
		user := createUser(t, store, models.LedgerReady)

		batch := l.NewBatch()
		require.NoError(t, l.Increment(ctx, batch, models.UserScope(user.Id), []string{"Books"}, 1))
		require.NoError(t, batch.Commit(ctx))
		assert.Equal(t, map[string]int64{"Books": 1}, counts(t, store, models.UserScope(user.Id)))
	})
}

func TestRecategorizeRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t)
	user := createUser(t, store, models.LedgerReady)
	userScope := models.UserScope(user.Id)

	batch := l.NewBatch()
	require.NoError(t, l.Increment(ctx, batch, models.GlobalScope, []string{"A", "B"}, 1))
	require.NoError(t, l.Increment(ctx, batch, userScope, []string{"A", "B"}, 1))
	require.NoError(t, batch.Commit(ctx))
	before := counts(t, store, models.GlobalScope)

	removed, added := models.DiffCategories([]string{"A", "B"}, []string{"B", "C"})
	batch = l.NewBatch()
	for _, scope := range []models.Scope{models.GlobalScope, userScope} {
		require.NoError(t, l.Decrement(ctx, batch, scope, removed, 1))
		require.NoError(t, l.Increment(ctx, batch, scope, added, 1))
	}
	require.NoError(t, batch.Commit(ctx))

	assert.Equal(t, map[string]int64{"B": 1, "C": 1}, counts(t, store, userScope))
	after := counts(t, store, models.GlobalScope)
	assert.Equal(t, before["A"]-1, after["A"])
	assert.Equal(t, before["C"]+1, after["C"])
	assert.Equal(t, before["B"], after["B"])
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t)
	scope := models.ExchangePointScope("ep")

	batch := l.NewBatch()
	batch.Increment(scope, "Stale", 3)
	batch.Increment(scope, "Books", 9)
	require.NoError(t, batch.Commit(ctx))

	batch = l.NewBatch()
	require.NoError(t, l.Reconcile(ctx, batch, scope, map[string]int64{"Books": 2, "Tools": 1, "Zero": 0}))
	require.NoError(t, batch.Commit(ctx))

	assert.Equal(t, map[string]int64{"Books": 2, "Tools": 1}, counts(t, store, scope))
}

func TestFanOutToExchangePoints(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t)
	user := createUser(t, store, models.LedgerReady, "ep1", "ep2")

	batch := l.NewBatch()
	require.NoError(t, l.FanOutToExchangePoints(ctx, batch, user, []string{"Books"}, nil))
	require.NoError(t, batch.Commit(ctx))
	assert.Equal(t, map[string]int64{"Books": 1}, counts(t, store, models.ExchangePointScope("ep1")))
	assert.Equal(t, map[string]int64{"Books": 1}, counts(t, store, models.ExchangePointScope("ep2")))

	batch = l.NewBatch()
	require.NoError(t, l.FanOutToExchangePoints(ctx, batch, user, []string{"Tools"}, []string{"Books"}))
	require.NoError(t, batch.Commit(ctx))
	assert.Equal(t, map[string]int64{"Tools": 1}, counts(t, store, models.ExchangePointScope("ep1")))
}

func TestEnsureReady(t *testing.T) {
	ctx := context.Background()

	t.Run("Backfills Existing Items", func(t *testing.T) {
		l, store := newTestLedger(t)
		user := createUser(t, store, models.LedgerUninitialized)
		createItem(t, store, user.Id, "Books", "Tools")
		createItem(t, store, user.Id, "Books")
		excluded := createItem(t, store, user.Id, "Garden")

		require.NoError(t, l.EnsureReady(ctx, user.Id, excluded.Id))

		stored, err := store.GetUser(ctx, user.Id)
		require.NoError(t, err)
		assert.Equal(t, models.LedgerReady, stored.LedgerState)
		assert.Equal(t, map[string]int64{"Books": 2, "Tools": 1}, counts(t, store, models.UserScope(user.Id)))
		assert.Equal(t, map[string]int64{"Books": 2, "Tools": 1}, counts(t, store, models.GlobalScope))
	})

	t.Run("Ready Is A No-Op", func(t *testing.T) {
		l, store := newTestLedger(t)
		user := createUser(t, store, models.LedgerReady)
		createItem(t, store, user.Id, "Books")

		require.NoError(t, l.EnsureReady(ctx, user.Id))
		assert.Empty(t, counts(t, store, models.GlobalScope))
	})

	t.Run("Concurrent Callers Backfill Once", func(t *testing.T) {
		l, store := newTestLedger(t)
		user := createUser(t, store, models.LedgerUninitialized)
		createItem(t, store, user.Id, "Books")

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = l.EnsureReady(ctx, user.Id)
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, map[string]int64{"Books": 1}, counts(t, store, models.GlobalScope))
	})

	t.Run("Waits On Live Lease", func(t *testing.T) {
		l, store := newTestLedger(t)
		user := createUser(t, store, models.LedgerUninitialized)
		require.NoError(t, store.TransitionLedgerState(ctx, user.Id, models.LedgerUninitialized, models.LedgerInitializing, time.Now().Add(time.Hour)))

		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()

		err := l.EnsureReady(waitCtx, user.Id)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Takes Over Expired Lease", func(t *testing.T) {
		l, store := newTestLedger(t)
		user := createUser(t, store, models.LedgerUninitialized)
		createItem(t, store, user.Id, "Books")
		require.NoError(t, store.TransitionLedgerState(ctx, user.Id, models.LedgerUninitialized, models.LedgerInitializing, time.Now().Add(-time.Second)))

		require.NoError(t, l.EnsureReady(ctx, user.Id))

		stored, err := store.GetUser(ctx, user.Id)
		require.NoError(t, err)
		assert.Equal(t, models.LedgerReady, stored.LedgerState)
		assert.Equal(t, map[string]int64{"Books": 1}, counts(t, store, models.UserScope(user.Id)))
	})

	t.Run("Unknown User", func(t *testing.T) {
		l, _ := newTestLedger(t)
		assert.ErrorIs(t, l.EnsureReady(ctx, "ghost"), storage.ErrNotFound)
	})

	t.Run("Unknown State", func(t *testing.T) {
		l, store := newTestLedger(t)
		user := createUser(t, store, models.LedgerState("MIGRATING"))
		createItem(t, store, user.Id, "Books")

		err := l.EnsureReady(ctx, user.Id)
		assert.ErrorContains(t, err, `unknown ledger state "MIGRATING"`)
		assert.Empty(t, counts(t, store, models.GlobalScope))
	})
}

func TestReleaseStale(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t)

	stale := createUser(t, store, models.LedgerUninitialized)
	live := createUser(t, store, models.LedgerUninitialized)
	require.NoError(t, store.TransitionLedgerState(ctx, stale.Id, models.LedgerUninitialized, models.LedgerInitializing, time.Now().Add(-time.Minute)))
	require.NoError(t, store.TransitionLedgerState(ctx, live.Id, models.LedgerUninitialized, models.LedgerInitializing, time.Now().Add(time.Hour)))

	released, err := l.ReleaseStale(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, released)
	got, err := store.GetUser(ctx, stale.Id)
	require.NoError(t, err)
	assert.Equal(t, models.LedgerUninitialized, got.LedgerState)
	got, err = store.GetUser(ctx, live.Id)
	require.NoError(t, err)
	assert.Equal(t, models.LedgerInitializing, got.LedgerState)
}

func TestCategoryReads(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	require.NoError(t, l.SeedDefaults(ctx, []string{"Books", "Tools", "Garden"}))
	require.NoError(t, l.SeedDefaults(ctx, []string{"Ignored"}))

	defaults, err := l.DefaultCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Books", "Tools", "Garden"}, defaults)

	batch := l.NewBatch()
	batch.Increment(models.GlobalScope, "Books", 1)
	batch.Increment(models.GlobalScope, "Tools", 3)
	require.NoError(t, batch.Commit(ctx))

	hot, err := l.HotCategories(ctx, 1)
	require.NoError(t, err)
	if assert.Len(t, hot, 1) {
		assert.Equal(t, "Tools", hot[0].Category)
	}

	recent, err := l.RecentCategories(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
