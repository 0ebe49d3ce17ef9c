package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chris/community-lending/pkg/exchangepoints"
	"github.com/chris/community-lending/pkg/geo"
	"github.com/chris/community-lending/pkg/items"
	"github.com/chris/community-lending/pkg/ledger"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/chris/community-lending/pkg/storage/badger"
	"github.com/chris/community-lending/pkg/users/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	berlin  = models.Location{Lat: 52.52, Lng: 13.405}
	potsdam = models.Location{Lat: 52.3906, Lng: 13.0645}
)

type fixture struct {
	store   *badger.Store
	ledger  *ledger.Ledger
	service *Service
	items   *items.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := badger.New("", 5)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })

	l := ledger.New(store, store, store, store, time.Minute)
	ex := exchangepoints.New(store, store, store, l)
	svc := New(store, ex, l)
	itemSvc := items.New(store, svc, l, ex)
	svc.SetPropagator(itemSvc)
	return &fixture{store: store, ledger: l, service: svc, items: itemSvc}
}

func (f *fixture) exchangePoint(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.CreateUser(context.Background(), &models.User{Id: id, Role: models.RoleExchangePointAdmin}))
}

func (f *fixture) counts(t *testing.T, scope models.Scope) map[string]int64 {
	t.Helper()
	rows, err := f.store.ListCounters(context.Background(), scope)
	require.NoError(t, err)
	out := map[string]int64{}
	for _, r := range rows {
		out[r.Category] = r.Count
	}
	return out
}

func title(s string) *string { return &s }

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("Creates User", func(t *testing.T) {
		f := newFixture(t)
		loc := berlin
		user, err := f.service.Register(ctx, "u1", Profile{Name: "Ada", Email: "ada@example.com", Location: &loc})
		require.NoError(t, err)

		assert.Equal(t, models.RoleUser, user.Role)
		assert.Equal(t, models.LedgerUninitialized, user.LedgerState)
		assert.Equal(t, geo.Encode(berlin), user.Geohash)
	})

	t.Run("Updates Existing Profile", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Register(ctx, "u1", Profile{Name: "Ada"})
		require.NoError(t, err)

		user, err := f.service.Register(ctx, "u1", Profile{Name: "Ada L."})
		require.NoError(t, err)
		assert.Equal(t, "Ada L.", user.Name)

		stored, err := f.store.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Ada L.", stored.Name)
	})

	t.Run("Moving Register Propagates Location", func(t *testing.T) {
		f := newFixture(t)
		loc := berlin
		_, err := f.service.Register(ctx, "u1", Profile{Location: &loc})
		require.NoError(t, err)
		item, err := f.items.Create(ctx, "u1", models.ItemFields{Title: title("Lamp")})
		require.NoError(t, err)

		moved := potsdam
		_, err = f.service.Register(ctx, "u1", Profile{Location: &moved})
		require.NoError(t, err)

		stored, err := f.store.GetItem(ctx, item.Id)
		require.NoError(t, err)
		assert.Equal(t, potsdam, stored.Location)
	})

	t.Run("Rejects Invalid Input", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Register(ctx, " ", Profile{})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)

		bad := models.Location{Lat: 100}
		_, err = f.service.Register(ctx, "u1", Profile{Location: &bad})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})
}

func TestGetUserCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.service.Register(ctx, "u1", Profile{Name: "Ada"})
	require.NoError(t, err)

	_, err = f.service.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateUserProfile(ctx, &models.User{Id: "u1", Name: "Changed", Role: models.RoleUser}))

	cached, err := f.service.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", cached.Name)

	f.service.Invalidate("u1")
	fresh, err := f.service.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Changed", fresh.Name)

	t.Run("Not Found", func(t *testing.T) {
		_, err := f.service.GetUser(ctx, "ghost")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestUpdateLocation(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		propagator := mocks.NewLocationPropagator(t)
		f.service.SetPropagator(propagator)
		_, err := f.service.Register(ctx, "u1", Profile{})
		require.NoError(t, err)

		propagator.On("PropagateLocation", ctx, "u1", potsdam).Return(nil).Once()

		user, err := f.service.UpdateLocation(ctx, "u1", potsdam)
		require.NoError(t, err)
		require.NotNil(t, user.Location)
		assert.Equal(t, potsdam, *user.Location)
		assert.Equal(t, geo.Encode(potsdam), user.Geohash)
	})

	t.Run("Propagation Failure", func(t *testing.T) {
		f := newFixture(t)
		propagator := mocks.NewLocationPropagator(t)
		f.service.SetPropagator(propagator)
		_, err := f.service.Register(ctx, "u1", Profile{})
		require.NoError(t, err)

		boom := errors.New("throttled")
		propagator.On("PropagateLocation", ctx, "u1", potsdam).Return(boom).Once()

		_, err = f.service.UpdateLocation(ctx, "u1", potsdam)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Invalid Location", func(t *testing.T) {
		f := newFixture(t)
		propagator := mocks.NewLocationPropagator(t)
		f.service.SetPropagator(propagator)

		_, err := f.service.UpdateLocation(ctx, "u1", models.Location{Lng: 181})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
		propagator.AssertNotCalled(t, "PropagateLocation")
	})
}

func TestSetExchangePoints(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *fixture {
		f := newFixture(t)
		f.exchangePoint(t, "ep1")
		f.exchangePoint(t, "ep2")
		loc := berlin
		_, err := f.service.Register(ctx, "u1", Profile{Location: &loc})
		require.NoError(t, err)
		_, err = f.items.Create(ctx, "u1", models.ItemFields{Title: title("Novel"), Categories: []string{"Books"}})
		require.NoError(t, err)
		_, err = f.items.Create(ctx, "u1", models.ItemFields{Title: title("Saw"), Categories: []string{"Tools", "Books"}})
		require.NoError(t, err)
		return f
	}

	t.Run("Nominate Copies Existing Items", func(t *testing.T) {
		f := setup(t)
		user, err := f.service.SetExchangePoints(ctx, "u1", []string{"ep1"})
		require.NoError(t, err)

		assert.Equal(t, []string{"ep1"}, user.ExchangePoints)
		assert.Equal(t, map[string]int64{"Books": 2, "Tools": 1}, f.counts(t, models.ExchangePointScope("ep1")))
		entries, err := f.store.ListCacheEntries(ctx, "ep1")
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("Switching Moves Counters", func(t *testing.T) {
		f := setup(t)
		_, err := f.service.SetExchangePoints(ctx, "u1", []string{"ep1"})
		require.NoError(t, err)

		user, err := f.service.SetExchangePoints(ctx, "u1", []string{"ep2"})
		require.NoError(t, err)

		assert.Equal(t, []string{"ep2"}, user.ExchangePoints)
		assert.Empty(t, f.counts(t, models.ExchangePointScope("ep1")))
		assert.Equal(t, map[string]int64{"Books": 2, "Tools": 1}, f.counts(t, models.ExchangePointScope("ep2")))
		entries, err := f.store.ListCacheEntries(ctx, "ep1")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("New Items Follow Nomination", func(t *testing.T) {
		f := setup(t)
		_, err := f.service.SetExchangePoints(ctx, "u1", []string{"ep1"})
		require.NoError(t, err)

		_, err = f.items.Create(ctx, "u1", models.ItemFields{Title: title("Atlas"), Categories: []string{"Books"}})
		require.NoError(t, err)
		assert.Equal(t, int64(3), f.counts(t, models.ExchangePointScope("ep1"))["Books"])
	})

	t.Run("Rejects Non Exchange Point", func(t *testing.T) {
		f := setup(t)
		_, err := f.service.Register(ctx, "u2", Profile{})
		require.NoError(t, err)

		_, err = f.service.SetExchangePoints(ctx, "u1", []string{"u2"})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
		_, err = f.service.SetExchangePoints(ctx, "u1", []string{"missing"})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)

		stored, err := f.store.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, stored.ExchangePoints)
	})

	t.Run("Rejects Self Nomination", func(t *testing.T) {
		f := setup(t)
		_, err := f.service.SetExchangePoints(ctx, "u1", []string{"u1"})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})
}

func TestUsersByRadius(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	near := models.Location{Lat: berlin.Lat + 0.01, Lng: berlin.Lng}
	for id, loc := range map[string]*models.Location{"near": &near, "far": &potsdam, "nowhere": nil} {
		_, err := f.service.Register(ctx, id, Profile{Location: loc})
		require.NoError(t, err)
	}

	got, err := f.service.UsersByRadius(ctx, berlin, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].Id)

	_, err = f.service.UsersByRadius(ctx, berlin, -1)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestExchangePoints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	base := time.Now()
	for i, id := range []string{"ep-old", "ep-mid", "ep-new"} {
		require.NoError(t, f.store.CreateUser(ctx, &models.User{
			Id:        id,
			Role:      models.RoleExchangePointAdmin,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, f.store.CreateUser(ctx, &models.User{Id: "member", Role: models.RoleUser, CreatedAt: base.Add(time.Hour)}))

	ids := func(users []models.User) []string {
		out := make([]string, 0, len(users))
		for _, u := range users {
			out = append(out, u.Id)
		}
		return out
	}

	t.Run("Newest First", func(t *testing.T) {
		got, err := f.service.ExchangePoints(ctx, models.Page{})
		require.NoError(t, err)
		assert.Equal(t, []string{"ep-new", "ep-mid", "ep-old"}, ids(got))
	})

	t.Run("Paged", func(t *testing.T) {
		got, err := f.service.ExchangePoints(ctx, models.Page{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"ep-mid"}, ids(got))

		got, err = f.service.ExchangePoints(ctx, models.Page{Limit: 5, Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
