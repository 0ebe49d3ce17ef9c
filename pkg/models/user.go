package models

import "time"

// Role distinguishes regular users from exchange points.
type Role string

const (
	RoleUser               Role = "USER"
	RoleExchangePointAdmin Role = "EXCHANGE_POINT_ADMIN"
)

// LedgerState tracks whether a user's category counters have been backfilled.
type LedgerState string

const (
	LedgerUninitialized LedgerState = "UNINITIALIZED"
	LedgerInitializing  LedgerState = "INITIALIZING"
	LedgerReady         LedgerState = "READY"
)

// UserGeoPartition is the constant partition key of the users geo index.
const UserGeoPartition = "USER"

// User is a platform member. Users with RoleExchangePointAdmin act as exchange points.
type User struct {
	Id               string      `json:"id" dynamodbav:"id"`
	Name             string      `json:"name" dynamodbav:"name"`
	Email            string      `json:"email" dynamodbav:"email"`
	Role             Role        `json:"role" dynamodbav:"role"`
	Location         *Location   `json:"location,omitempty" dynamodbav:"location,omitempty"`
	Geohash          string      `json:"geohash,omitempty" dynamodbav:"geohash,omitempty"`
	GeoPK            string      `json:"-" dynamodbav:"geo_pk,omitempty"`
	ExchangePoints   []string    `json:"exchange_points,omitempty" dynamodbav:"exchange_points,omitempty"`
	LedgerState      LedgerState `json:"ledger_state" dynamodbav:"ledger_state"`
	LedgerLeaseUntil time.Time   `json:"ledger_lease_until,omitempty" dynamodbav:"ledger_lease_until,unixtime"`
	CreatedAt        time.Time   `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" dynamodbav:"updated_at"`
}

// IsExchangePoint reports whether the user is an exchange point.
func (u *User) IsExchangePoint() bool {
	return u.Role == RoleExchangePointAdmin
}

// HasNominated reports whether the user nominated the given exchange point.
func (u *User) HasNominated(exchangePointID string) bool {
	for _, id := range u.ExchangePoints {
		if id == exchangePointID {
			return true
		}
	}
	return false
}
