package transactions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chris/community-lending/pkg/api"
	"github.com/chris/community-lending/pkg/auth"
	"github.com/chris/community-lending/pkg/handlers/transactions/mocks"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func as(req *http.Request, userID string) *http.Request {
	claims := &auth.Claims{}
	claims.Subject = userID
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func sampleTx(id string, status models.TransactionStatus) *models.Transaction {
	now := time.Now().UTC()
	return &models.Transaction{Id: id, ItemId: "item-1", RequestorId: "borrower", Status: status, CreatedAt: now, UpdatedAt: now}
}

func TestCreateTransaction(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockService := mocks.NewTransactionService(t)
		created := sampleTx(uuid.NewString(), models.PENDING)
		mockService.On("Create", mock.Anything, "borrower", "item-1").Return(created, nil)
		handler := NewTransactionsHandler(mockService)

		body, _ := json.Marshal(api.NewTransaction{ItemId: "item-1"})
		req := as(httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewReader(body)), "borrower")
		rr := httptest.NewRecorder()

		handler.CreateTransaction(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		var got api.Transaction
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, created.Id, got.Id)
		assert.Equal(t, api.TransactionStatus("PENDING"), got.Status)
	})

	t.Run("Capacity Exceeded", func(t *testing.T) {
		mockService := mocks.NewTransactionService(t)
		mockService.On("Create", mock.Anything, "borrower", "item-1").
			Return(nil, fmt.Errorf("item item-1: %w", storage.ErrCapacityExceeded))
		handler := NewTransactionsHandler(mockService)

		body, _ := json.Marshal(api.NewTransaction{ItemId: "item-1"})
		req := as(httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewReader(body)), "borrower")
		rr := httptest.NewRecorder()

		handler.CreateTransaction(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("Missing Item Id", func(t *testing.T) {
		mockService := mocks.NewTransactionService(t)
		handler := NewTransactionsHandler(mockService)

		req := as(httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewReader([]byte(`{}`))), "borrower")
		rr := httptest.NewRecorder()

		handler.CreateTransaction(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "item_id")
		mockService.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Anonymous", func(t *testing.T) {
		mockService := mocks.NewTransactionService(t)
		handler := NewTransactionsHandler(mockService)

		body, _ := json.Marshal(api.NewTransaction{ItemId: "item-1"})
		rr := httptest.NewRecorder()

		handler.CreateTransaction(rr, httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewReader(body)))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestTransitions(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name   string
		method string
		call   func(h *TransactionsHandler, w http.ResponseWriter, r *http.Request)
		err    error
		status int
	}{
		{"Approve", "Approve", func(h *TransactionsHandler, w http.ResponseWriter, r *http.Request) { h.ApproveTransaction(w, r, id) }, nil, http.StatusOK},
		{"Cancel", "Cancel", func(h *TransactionsHandler, w http.ResponseWriter, r *http.Request) { h.CancelTransaction(w, r, id) }, nil, http.StatusOK},
		{"Transfer", "Transfer", func(h *TransactionsHandler, w http.ResponseWriter, r *http.Request) { h.TransferTransaction(w, r, id) }, nil, http.StatusOK},
		{"Receive", "Receive", func(h *TransactionsHandler, w http.ResponseWriter, r *http.Request) { h.ReceiveTransaction(w, r, id) }, nil, http.StatusOK},
		{"Approve By Stranger", "Approve", func(h *TransactionsHandler, w http.ResponseWriter, r *http.Request) { h.ApproveTransaction(w, r, id) }, storage.ErrUnauthorized, http.StatusForbidden},
		{"Receive Too Early", "Receive", func(h *TransactionsHandler, w http.ResponseWriter, r *http.Request) { h.ReceiveTransaction(w, r, id) }, storage.ErrInvalidStateTransition, http.StatusConflict},
		{"Cancel Unknown", "Cancel", func(h *TransactionsHandler, w http.ResponseWriter, r *http.Request) { h.CancelTransaction(w, r, id) }, storage.ErrNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := mocks.NewTransactionService(t)
			if tt.err != nil {
				mockService.On(tt.method, mock.Anything, "owner", id.String()).Return(nil, tt.err)
			} else {
				mockService.On(tt.method, mock.Anything, "owner", id.String()).Return(sampleTx(id.String(), models.APPROVED), nil)
			}
			handler := NewTransactionsHandler(mockService)

			req := as(httptest.NewRequest(http.MethodPost, "/v1/transactions/"+id.String(), nil), "owner")
			rr := httptest.NewRecorder()
			tt.call(handler, rr, req)

			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestGetTransactionById(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		id := uuid.New()
		mockService := mocks.NewTransactionService(t)
		mockService.On("Get", mock.Anything, id.String()).Return(sampleTx(id.String(), models.TRANSFERRED), nil)
		handler := NewTransactionsHandler(mockService)

		rr := httptest.NewRecorder()
		handler.GetTransactionById(rr, as(httptest.NewRequest(http.MethodGet, "/", nil), "owner"), id)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"status":"TRANSFERRED"`)
	})

	t.Run("Not Found", func(t *testing.T) {
		id := uuid.New()
		mockService := mocks.NewTransactionService(t)
		mockService.On("Get", mock.Anything, id.String()).Return(nil, storage.ErrNotFound)
		handler := NewTransactionsHandler(mockService)

		rr := httptest.NewRecorder()
		handler.GetTransactionById(rr, as(httptest.NewRequest(http.MethodGet, "/", nil), "owner"), id)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestListings(t *testing.T) {
	t.Run("Mine", func(t *testing.T) {
		mockService := mocks.NewTransactionService(t)
		mockService.On("ListByRequestor", mock.Anything, "borrower").
			Return([]models.Transaction{*sampleTx("a", models.PENDING), *sampleTx("b", models.COMPLETED)}, nil)
		handler := NewTransactionsHandler(mockService)

		rr := httptest.NewRecorder()
		handler.ListMyTransactions(rr, as(httptest.NewRequest(http.MethodGet, "/", nil), "borrower"))

		assert.Equal(t, http.StatusOK, rr.Code)
		var got []api.Transaction
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Len(t, got, 2)
	})

	t.Run("By Item Empty", func(t *testing.T) {
		mockService := mocks.NewTransactionService(t)
		mockService.On("ListByItem", mock.Anything, "item-1").Return(nil, nil)
		handler := NewTransactionsHandler(mockService)

		rr := httptest.NewRecorder()
		handler.ListItemTransactions(rr, as(httptest.NewRequest(http.MethodGet, "/", nil), "borrower"), "item-1")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("Open By Item", func(t *testing.T) {
		mockService := mocks.NewTransactionService(t)
		mockService.On("OpenByItem", mock.Anything, "item-1").
			Return([]models.Transaction{*sampleTx("a", models.APPROVED)}, nil)
		handler := NewTransactionsHandler(mockService)

		rr := httptest.NewRecorder()
		handler.ListOpenItemTransactions(rr, as(httptest.NewRequest(http.MethodGet, "/", nil), "owner"), "item-1")

		assert.Equal(t, http.StatusOK, rr.Code)
		var got []api.Transaction
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, api.TransactionStatus("APPROVED"), got[0].Status)
		mockService.AssertNotCalled(t, "ListByItem", mock.Anything, mock.Anything)
	})

	t.Run("Open By Item Failure", func(t *testing.T) {
		mockService := mocks.NewTransactionService(t)
		mockService.On("OpenByItem", mock.Anything, "item-1").Return(nil, fmt.Errorf("boom"))
		handler := NewTransactionsHandler(mockService)

		rr := httptest.NewRecorder()
		handler.ListOpenItemTransactions(rr, as(httptest.NewRequest(http.MethodGet, "/", nil), "owner"), "item-1")

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}
