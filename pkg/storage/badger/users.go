package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chris/community-lending/pkg/geo"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/dgraph-io/badger/v4"
)

// CreateUser persists a new user.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		found, err := exists(txn, userKey(user.Id))
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("user %s already exists: %w", user.Id, storage.ErrConflict)
		}
		if err := setJSON(txn, userKey(user.Id), user); err != nil {
			return err
		}
		if user.Geohash != "" {
			return txn.Set(userByGeoKey(user.Geohash, user.Id), nil)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(userID), &user)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("user with ID %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdateUserProfile overwrites name, email and role.
func (s *Store) UpdateUserProfile(ctx context.Context, user *models.User) error {
	return s.mutateUser(ctx, user.Id, func(txn *badger.Txn, stored *models.User) error {
		stored.Name = user.Name
		stored.Email = user.Email
		stored.Role = user.Role
		return nil
	})
}

// UpdateUserLocation stores the user's location and re-keys the geo index.
func (s *Store) UpdateUserLocation(ctx context.Context, userID string, loc models.Location, geohash string) error {
	return s.mutateUser(ctx, userID, func(txn *badger.Txn, stored *models.User) error {
		if stored.Geohash != "" {
			if err := txn.Delete(userByGeoKey(stored.Geohash, stored.Id)); err != nil {
				return err
			}
		}
		stored.Location = &loc
		stored.Geohash = geohash
		return txn.Set(userByGeoKey(geohash, stored.Id), nil)
	})
}

// SetExchangePoints replaces the user's nominated exchange points.
func (s *Store) SetExchangePoints(ctx context.Context, userID string, exchangePointIDs []string) error {
	return s.mutateUser(ctx, userID, func(txn *badger.Txn, stored *models.User) error {
		stored.ExchangePoints = exchangePointIDs
		return nil
	})
}

// QueryUsersByGeohash returns users whose geohash lies in r.
func (s *Store) QueryUsersByGeohash(ctx context.Context, r geo.Range) ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := geoRangeIDs(txn, userByGeoPrefix, r)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var user models.User
			if err := getJSON(txn, userKey(id), &user); err != nil {
				return fmt.Errorf("geo index points at user %s: %w", id, err)
			}
			users = append(users, user)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query users by geohash: %w", err)
	}
	return users, nil
}

// TransitionLedgerState moves the user's ledger state inside one transaction.
func (s *Store) TransitionLedgerState(ctx context.Context, userID string, from, to models.LedgerState, leaseUntil time.Time) error {
	return s.mutateUser(ctx, userID, func(txn *badger.Txn, stored *models.User) error {
		current := stored.LedgerState
		if current == "" {
			current = models.LedgerUninitialized
		}
		if current != from {
			return fmt.Errorf("ledger of user %s is %s, not %s: %w", userID, stored.LedgerState, from, storage.ErrConditionFailed)
		}
		if from == models.LedgerInitializing && to == models.LedgerInitializing && stored.LedgerLeaseUntil.After(s.now()) {
			return fmt.Errorf("ledger of user %s is leased until %s: %w", userID, stored.LedgerLeaseUntil, storage.ErrConditionFailed)
		}
		stored.LedgerState = to
		stored.LedgerLeaseUntil = leaseUntil
		return nil
	})
}

// ListStaleLedgers scans users for expired INITIALIZING leases.
func (s *Store) ListStaleLedgers(ctx context.Context, before time.Time) ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(txn *badger.Txn) error {
		return scanValues(txn, userPrefix, func(val []byte) error {
			var user models.User
			if err := json.Unmarshal(val, &user); err != nil {
				return err
			}
			if user.LedgerState == models.LedgerInitializing && user.LedgerLeaseUntil.Before(before) {
				users = append(users, user)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list stale ledgers: %w", err)
	}
	return users, nil
}

// ListUsersByRole scans users for the role, newest first.
func (s *Store) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(txn *badger.Txn) error {
		return scanValues(txn, userPrefix, func(val []byte) error {
			var user models.User
			if err := json.Unmarshal(val, &user); err != nil {
				return err
			}
			if user.Role == role {
				users = append(users, user)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	return users, nil
}

func (s *Store) mutateUser(ctx context.Context, userID string, fn func(txn *badger.Txn, stored *models.User) error) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var stored models.User
		if err := getJSON(txn, userKey(userID), &stored); err != nil {
			return err
		}
		if err := fn(txn, &stored); err != nil {
			return err
		}
		stored.UpdatedAt = s.now()
		return setJSON(txn, userKey(userID), &stored)
	})
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", userID, err)
	}
	return nil
}
