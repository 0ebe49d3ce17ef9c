package handlers

import (
	"net/http"

	"github.com/chris/community-lending/pkg/api"
	"github.com/chris/community-lending/pkg/handlers/categories"
	"github.com/chris/community-lending/pkg/handlers/items"
	"github.com/chris/community-lending/pkg/handlers/respond"
	"github.com/chris/community-lending/pkg/handlers/transactions"
	"github.com/chris/community-lending/pkg/handlers/users"
	"github.com/chris/community-lending/pkg/services"
)

// ApiHandler implements the server interface by composing the resource handlers.
type ApiHandler struct {
	*users.UsersHandler
	*items.ItemsHandler
	*transactions.TransactionsHandler
	*categories.CategoriesHandler
}

// Make sure we conform to the interface
var _ api.ServerInterface = (*ApiHandler)(nil)

// NewApiHandler creates an ApiHandler backed by the wired services.
func NewApiHandler(svc *services.Services) *ApiHandler {
	return &ApiHandler{
		UsersHandler:        users.NewUsersHandler(svc.Users),
		ItemsHandler:        items.NewItemsHandler(svc.Items, svc.ExchangePoints),
		TransactionsHandler: transactions.NewTransactionsHandler(svc.Transactions),
		CategoriesHandler:   categories.NewCategoriesHandler(svc.Ledger, svc.ExchangePoints),
	}
}

// Health reports that the process is serving.
func (h *ApiHandler) Health(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ParamError answers requests whose parameters do not bind.
func ParamError(w http.ResponseWriter, r *http.Request, err error) {
	respond.Error(w, r, err)
}
