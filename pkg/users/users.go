// Package users manages user profiles, locations and exchange point nominations.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chris/community-lending/pkg/geo"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	cache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentQueries = 8

// LocationPropagator moves the items that travel with a user.
type LocationPropagator interface {
	PropagateLocation(ctx context.Context, userID string, loc models.Location) error
}

// ExchangePoints maintains the exchange point caches of nominating users.
type ExchangePoints interface {
	Validate(ctx context.Context, exchangePointIDs []string) error
	Nominate(ctx context.Context, batch storage.CounterBatch, user *models.User, exchangePointIDs []string) error
	Unnominate(ctx context.Context, batch storage.CounterBatch, user *models.User, exchangePointIDs []string) error
}

// BatchFactory starts counter batches.
type BatchFactory interface {
	NewBatch() storage.CounterBatch
}

// Profile is the caller-editable part of a user.
type Profile struct {
	Name     string
	Email    string
	Location *models.Location
}

// Service reads users through an in-process cache and owns every user write.
type Service struct {
	store     storage.UserStore
	exchange  ExchangePoints
	batches   BatchFactory
	propagate LocationPropagator
	cache     *cache.Cache
}

// New creates a Service. The location propagator is set later with
// SetPropagator because the item service itself depends on users.
func New(store storage.UserStore, exchange ExchangePoints, batches BatchFactory) *Service {
	return &Service{
		store:    store,
		exchange: exchange,
		batches:  batches,
		cache:    cache.New(cache.NoExpiration, 0),
	}
}

// SetPropagator wires the item service that follows user location changes.
func (s *Service) SetPropagator(p LocationPropagator) {
	s.propagate = p
}

// GetUser returns a user, serving repeated reads from the cache.
func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if cached, ok := s.cache.Get(userID); ok {
		user := cached.(models.User)
		return &user, nil
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(userID, *user, cache.NoExpiration)
	return user, nil
}

// Invalidate drops a user from the cache.
func (s *Service) Invalidate(userID string) {
	s.cache.Delete(userID)
}

// Register creates the user on first call and updates the profile afterwards.
// New users start with an uninitialized category ledger.
func (s *Service) Register(ctx context.Context, userID string, profile Profile) (*models.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required: %w", storage.ErrInvalidInput)
	}
	if profile.Location != nil && !geo.ValidLocation(*profile.Location) {
		return nil, fmt.Errorf("invalid location %v: %w", *profile.Location, storage.ErrInvalidInput)
	}

	existing, err := s.store.GetUser(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return s.create(ctx, userID, profile)
	case err != nil:
		return nil, err
	}

	existing.Name = profile.Name
	existing.Email = profile.Email
	if err := s.store.UpdateUserProfile(ctx, existing); err != nil {
		return nil, err
	}
	s.Invalidate(userID)

	if profile.Location != nil && (existing.Location == nil || *existing.Location != *profile.Location) {
		return s.UpdateLocation(ctx, userID, *profile.Location)
	}
	return s.GetUser(ctx, userID)
}

func (s *Service) create(ctx context.Context, userID string, profile Profile) (*models.User, error) {
	user := &models.User{
		Id:          userID,
		Name:        profile.Name,
		Email:       profile.Email,
		Role:        models.RoleUser,
		Location:    profile.Location,
		LedgerState: models.LedgerUninitialized,
	}
	if profile.Location != nil {
		user.Geohash = geo.Encode(*profile.Location)
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	slog.Info("user registered", "user_id", userID)
	return s.GetUser(ctx, userID)
}

// UpdateLocation stores the user's new location and moves the items that
// travel with the user.
func (s *Service) UpdateLocation(ctx context.Context, userID string, loc models.Location) (*models.User, error) {
	if !geo.ValidLocation(loc) {
		return nil, fmt.Errorf("invalid location %v: %w", loc, storage.ErrInvalidInput)
	}
	if err := s.store.UpdateUserLocation(ctx, userID, loc, geo.Encode(loc)); err != nil {
		return nil, err
	}
	s.Invalidate(userID)

	if s.propagate != nil {
		if err := s.propagate.PropagateLocation(ctx, userID, loc); err != nil {
			return nil, err
		}
	}
	return s.GetUser(ctx, userID)
}

// SetExchangePoints replaces the user's nominations. Items are uncached from
// dropped exchange points and cached at new ones, and all counter changes are
// committed in one batch before the nomination list is stored.
func (s *Service) SetExchangePoints(ctx context.Context, userID string, exchangePointIDs []string) (*models.User, error) {
	next := models.NormalizeCategories(exchangePointIDs)
	for _, id := range next {
		if id == userID {
			return nil, fmt.Errorf("user %s cannot nominate itself: %w", userID, storage.ErrInvalidInput)
		}
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	removed, added := models.DiffCategories(user.ExchangePoints, next)
	if len(removed) == 0 && len(added) == 0 {
		return user, nil
	}
	if err := s.exchange.Validate(ctx, added); err != nil {
		return nil, err
	}

	batch := s.batches.NewBatch()
	if err := s.exchange.Unnominate(ctx, batch, user, removed); err != nil {
		return nil, err
	}
	if err := s.exchange.Nominate(ctx, batch, user, added); err != nil {
		return nil, err
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to update exchange point counters: %w", err)
	}

	if err := s.store.SetExchangePoints(ctx, userID, next); err != nil {
		return nil, err
	}
	s.Invalidate(userID)

	slog.Info("exchange points updated", "user_id", userID, "added", added, "removed", removed)
	return s.GetUser(ctx, userID)
}

// ExchangePoints returns a page of the exchange point directory, newest first.
func (s *Service) ExchangePoints(ctx context.Context, page models.Page) ([]models.User, error) {
	users, err := s.store.ListUsersByRole(ctx, models.RoleExchangePointAdmin)
	if err != nil {
		return nil, err
	}
	return models.Paginate(users, page), nil
}

// UsersByRadius returns the users located within radiusKm of center.
func (s *Service) UsersByRadius(ctx context.Context, center models.Location, radiusKm float64) ([]models.User, error) {
	if !geo.ValidLocation(center) {
		return nil, fmt.Errorf("invalid center %v: %w", center, storage.ErrInvalidInput)
	}
	if !(radiusKm > 0) {
		return nil, fmt.Errorf("radius must be positive: %w", storage.ErrInvalidInput)
	}
	ranges := geo.BoundingBoxes(center, radiusKm)

	results := make([][]models.User, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)
	for i, r := range ranges {
		g.Go(func() error {
			users, err := s.store.QueryUsersByGeohash(gctx, r)
			if err != nil {
				return err
			}
			results[i] = users
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to query users by radius: %w", err)
	}

	seen := make(map[string]struct{})
	var out []models.User
	for _, batch := range results {
		for _, user := range batch {
			if user.Location == nil {
				continue
			}
			if _, dup := seen[user.Id]; dup {
				continue
			}
			if !geo.WithinRadius(*user.Location, center, radiusKm) {
				continue
			}
			seen[user.Id] = struct{}{}
			out = append(out, user)
		}
	}
	return out, nil
}
