package users

import (
	"context"
	"net/http"

	"github.com/chris/community-lending/pkg/api"
	"github.com/chris/community-lending/pkg/auth"
	"github.com/chris/community-lending/pkg/handlers/respond"
	"github.com/chris/community-lending/pkg/mapping"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/users"
)

// UserService owns user profiles, locations and exchange point nominations.
type UserService interface {
	Register(ctx context.Context, userID string, profile users.Profile) (*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	UpdateLocation(ctx context.Context, userID string, loc models.Location) (*models.User, error)
	SetExchangePoints(ctx context.Context, userID string, exchangePointIDs []string) (*models.User, error)
	UsersByRadius(ctx context.Context, center models.Location, radiusKm float64) ([]models.User, error)
	ExchangePoints(ctx context.Context, page models.Page) ([]models.User, error)
}

// UsersHandler holds the dependencies for user-related handlers.
type UsersHandler struct {
	Service UserService
}

// NewUsersHandler creates a new UsersHandler.
func NewUsersHandler(service UserService) *UsersHandler {
	return &UsersHandler{Service: service}
}

// RegisterMe creates or updates the caller's profile. The token email is used
// when the body carries none.
func (h *UsersHandler) RegisterMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	var body api.RegisterUser
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, r, err)
		return
	}

	profile := users.Profile{Name: body.Name, Location: mapping.ToDomainLocation(body.Location)}
	if body.Email != nil {
		profile.Email = string(*body.Email)
	} else if claims := auth.ClaimsFrom(r.Context()); claims != nil {
		profile.Email = claims.Email
	}

	user, err := h.Service.Register(r.Context(), userID, profile)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiUser(user, true))
}

// UpdateMyLocation moves the caller and every item that follows them.
func (h *UsersHandler) UpdateMyLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	var body api.Location
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, r, err)
		return
	}

	user, err := h.Service.UpdateLocation(r.Context(), userID, *mapping.ToDomainLocation(&body))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiUser(user, true))
}

// SetMyExchangePoints replaces the caller's nominated exchange points.
func (h *UsersHandler) SetMyExchangePoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	var body api.ExchangePointSelection
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, r, err)
		return
	}

	user, err := h.Service.SetExchangePoints(r.Context(), userID, body.ExchangePointIds)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiUser(user, true))
}

// GetUser returns a public profile, or the full one when it is the caller's.
func (h *UsersHandler) GetUser(w http.ResponseWriter, r *http.Request, userId string) {
	callerID, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	user, err := h.Service.GetUser(r.Context(), userId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiUser(user, callerID == userId))
}

// ListNearbyUsers returns the users within a radius.
func (h *UsersHandler) ListNearbyUsers(w http.ResponseWriter, r *http.Request, params api.NearbyParams) {
	callerID, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	center := models.Location{Lat: params.Lat, Lng: params.Lng}
	found, err := h.Service.UsersByRadius(r.Context(), center, params.RadiusKm)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	out := make([]*api.User, len(found))
	for i := range found {
		out[i] = mapping.ToApiUser(&found[i], found[i].Id == callerID)
	}
	respond.JSON(w, http.StatusOK, out)
}

// ListExchangePoints returns a page of the exchange point directory.
func (h *UsersHandler) ListExchangePoints(w http.ResponseWriter, r *http.Request, params api.PageParams) {
	callerID, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	found, err := h.Service.ExchangePoints(r.Context(), mapping.ToDomainPage(params.Limit, params.Offset))
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	out := make([]*api.User, len(found))
	for i := range found {
		out[i] = mapping.ToApiUser(&found[i], found[i].Id == callerID)
	}
	respond.JSON(w, http.StatusOK, out)
}
