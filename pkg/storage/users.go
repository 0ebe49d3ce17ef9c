package storage

import (
	"context"
	"time"

	"github.com/chris/community-lending/pkg/geo"
	"github.com/chris/community-lending/pkg/models"
)

// UserStore defines the interface for managing users.
type UserStore interface {
	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, userID string) (*models.User, error)

	// CreateUser persists a new user. It fails with ErrConflict if the ID exists.
	CreateUser(ctx context.Context, user *models.User) error

	// UpdateUserProfile overwrites name, email and role.
	UpdateUserProfile(ctx context.Context, user *models.User) error

	// UpdateUserLocation stores the user's location and geohash.
	UpdateUserLocation(ctx context.Context, userID string, loc models.Location, geohash string) error

	// SetExchangePoints replaces the user's nominated exchange points.
	SetExchangePoints(ctx context.Context, userID string, exchangePointIDs []string) error

	// QueryUsersByGeohash returns users with a location inside the inclusive range.
	QueryUsersByGeohash(ctx context.Context, r geo.Range) ([]models.User, error)

	// ListUsersByRole returns every user with the role, newest first.
	ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
}

// LedgerStateStore guards the lazy backfill of per-user counters.
type LedgerStateStore interface {
	// TransitionLedgerState moves the user from one ledger state to another and stores
	// leaseUntil. An INITIALIZING -> INITIALIZING takeover additionally requires the
	// current lease to have expired. It returns ErrConditionFailed when the condition
	// does not hold and ErrNotFound when the user does not exist.
	TransitionLedgerState(ctx context.Context, userID string, from, to models.LedgerState, leaseUntil time.Time) error

	// ListStaleLedgers returns users stuck in INITIALIZING whose lease expired before the cutoff.
	ListStaleLedgers(ctx context.Context, before time.Time) ([]models.User, error)
}
