package transactions

import (
	"context"
	"net/http"

	"github.com/chris/community-lending/pkg/api"
	"github.com/chris/community-lending/pkg/handlers/respond"
	"github.com/chris/community-lending/pkg/mapping"
	"github.com/chris/community-lending/pkg/models"
	"github.com/oapi-codegen/runtime/types"
)

// TransactionService is the transaction state machine behind the handlers.
type TransactionService interface {
	Create(ctx context.Context, requestorID, itemID string) (*models.Transaction, error)
	Approve(ctx context.Context, actorID, txID string) (*models.Transaction, error)
	Cancel(ctx context.Context, actorID, txID string) (*models.Transaction, error)
	Transfer(ctx context.Context, actorID, txID string) (*models.Transaction, error)
	Receive(ctx context.Context, actorID, txID string) (*models.Transaction, error)
	Get(ctx context.Context, txID string) (*models.Transaction, error)
	ListByItem(ctx context.Context, itemID string) ([]models.Transaction, error)
	OpenByItem(ctx context.Context, itemID string) ([]models.Transaction, error)
	ListByRequestor(ctx context.Context, requestorID string) ([]models.Transaction, error)
}

// TransactionsHandler holds the dependencies for transaction-related handlers.
type TransactionsHandler struct {
	Service TransactionService
}

// NewTransactionsHandler creates a new TransactionsHandler.
func NewTransactionsHandler(service TransactionService) *TransactionsHandler {
	return &TransactionsHandler{Service: service}
}

// CreateTransaction opens a request by the caller for an item.
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	var newTx api.NewTransaction
	if err := respond.Decode(r, &newTx); err != nil {
		respond.Error(w, r, err)
		return
	}

	tx, err := h.Service.Create(r.Context(), userID, newTx.ItemId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, mapping.ToApiTransaction(tx))
}

// GetTransactionById handles the logic for retrieving a transaction by its ID.
func (h *TransactionsHandler) GetTransactionById(w http.ResponseWriter, r *http.Request, transactionId types.UUID) {
	if _, ok := respond.Caller(w, r); !ok {
		return
	}
	tx, err := h.Service.Get(r.Context(), transactionId.String())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiTransaction(tx))
}

// ApproveTransaction lets the item owner accept a pending request.
func (h *TransactionsHandler) ApproveTransaction(w http.ResponseWriter, r *http.Request, transactionId types.UUID) {
	h.transition(w, r, transactionId, h.Service.Approve)
}

// CancelTransaction withdraws or rejects an open request.
func (h *TransactionsHandler) CancelTransaction(w http.ResponseWriter, r *http.Request, transactionId types.UUID) {
	h.transition(w, r, transactionId, h.Service.Cancel)
}

// TransferTransaction records that the holder handed the item over.
func (h *TransactionsHandler) TransferTransaction(w http.ResponseWriter, r *http.Request, transactionId types.UUID) {
	h.transition(w, r, transactionId, h.Service.Transfer)
}

// ReceiveTransaction records that the requestor received the item.
func (h *TransactionsHandler) ReceiveTransaction(w http.ResponseWriter, r *http.Request, transactionId types.UUID) {
	h.transition(w, r, transactionId, h.Service.Receive)
}

// ListMyTransactions lists the requests the caller made.
func (h *TransactionsHandler) ListMyTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	txs, err := h.Service.ListByRequestor(r.Context(), userID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiTransactions(txs))
}

// ListItemTransactions lists every request made for an item.
func (h *TransactionsHandler) ListItemTransactions(w http.ResponseWriter, r *http.Request, itemId string) {
	if _, ok := respond.Caller(w, r); !ok {
		return
	}
	txs, err := h.Service.ListByItem(r.Context(), itemId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiTransactions(txs))
}

// ListOpenItemTransactions lists the requests for an item that are still in flight.
func (h *TransactionsHandler) ListOpenItemTransactions(w http.ResponseWriter, r *http.Request, itemId string) {
	if _, ok := respond.Caller(w, r); !ok {
		return
	}
	txs, err := h.Service.OpenByItem(r.Context(), itemId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiTransactions(txs))
}

type transitionFunc func(ctx context.Context, actorID, txID string) (*models.Transaction, error)

func (h *TransactionsHandler) transition(w http.ResponseWriter, r *http.Request, transactionId types.UUID, fn transitionFunc) {
	userID, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	tx, err := fn(r.Context(), userID, transactionId.String())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiTransaction(tx))
}
