package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chris/community-lending/pkg/api"
	"github.com/chris/community-lending/pkg/auth"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Not Found", fmt.Errorf("item x: %w", storage.ErrNotFound), http.StatusNotFound},
		{"Unauthorized", storage.ErrUnauthorized, http.StatusForbidden},
		{"Invalid Transition", storage.ErrInvalidStateTransition, http.StatusConflict},
		{"Capacity", storage.ErrCapacityExceeded, http.StatusConflict},
		{"Conflict", storage.ErrConflict, http.StatusConflict},
		{"Invalid Input", storage.ErrInvalidInput, http.StatusBadRequest},
		{"Validation", &api.ValidationError{Fields: map[string]string{"title": "is required"}}, http.StatusBadRequest},
		{"Param Format", &api.InvalidParamFormatError{ParamName: "lat", Err: errors.New("nope")}, http.StatusBadRequest},
		{"Partial Batch", fmt.Errorf("commit: %w", &storage.PartialBatchError{Committed: 1, Total: 2, Err: errors.New("throttled")}), http.StatusServiceUnavailable},
		{"Unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.err))
		})
	}
}

func TestError(t *testing.T) {
	t.Run("Client Error Keeps Message", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Error(rr, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("item x: %w", storage.ErrNotFound))

		assert.Equal(t, http.StatusNotFound, rr.Code)
		var body api.Error
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "item x: not found", body.Message)
	})

	t.Run("Internal Error Is Hidden", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Error(rr, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("dynamodb exploded"))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "dynamodb")
	})

	t.Run("Partial Batch Is Retryable", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Error(rr, httptest.NewRequest(http.MethodGet, "/", nil), &storage.PartialBatchError{Committed: 1, Total: 3, Err: errors.New("x")})

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	})
}

func TestDecode(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		var body api.NewItem
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"Drill","categories":["Tools"]}`))
		require.NoError(t, Decode(req, &body))
		assert.Equal(t, "Drill", body.Title)
	})

	t.Run("Malformed", func(t *testing.T) {
		var body api.NewItem
		err := Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":`)), &body)
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})

	t.Run("Unknown Field", func(t *testing.T) {
		var body api.NewItem
		err := Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"x","owner":"me"}`)), &body)
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})

	t.Run("Fails Validation", func(t *testing.T) {
		var body api.NewItem
		err := Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":""}`)), &body)
		var verr *api.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "title")
	})
}

func TestCaller(t *testing.T) {
	t.Run("Authenticated", func(t *testing.T) {
		claims := &auth.Claims{Email: "a@example.com"}
		claims.Subject = "user-a"
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
		rr := httptest.NewRecorder()

		userID, ok := Caller(rr, req)
		assert.True(t, ok)
		assert.Equal(t, "user-a", userID)
	})

	t.Run("Claims Without Subject", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{Email: "a@example.com"}))
		rr := httptest.NewRecorder()

		_, ok := Caller(rr, req)
		assert.False(t, ok)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("Anonymous", func(t *testing.T) {
		rr := httptest.NewRecorder()
		_, ok := Caller(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.False(t, ok)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
