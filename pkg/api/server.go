package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /health)
	Health(w http.ResponseWriter, r *http.Request)

	// (POST /v1/users/me)
	RegisterMe(w http.ResponseWriter, r *http.Request)
	// (PUT /v1/users/me/location)
	UpdateMyLocation(w http.ResponseWriter, r *http.Request)
	// (PUT /v1/users/me/exchange-points)
	SetMyExchangePoints(w http.ResponseWriter, r *http.Request)
	// (GET /v1/users/me/transactions)
	ListMyTransactions(w http.ResponseWriter, r *http.Request)
	// (GET /v1/users/nearby)
	ListNearbyUsers(w http.ResponseWriter, r *http.Request, params NearbyParams)
	// (GET /v1/users/{userId})
	GetUser(w http.ResponseWriter, r *http.Request, userId string)
	// (GET /v1/users/{userId}/items)
	ListUserItems(w http.ResponseWriter, r *http.Request, userId string, params ListUserItemsParams)

	// (POST /v1/items)
	CreateItem(w http.ResponseWriter, r *http.Request)
	// (GET /v1/items/nearby)
	ListNearbyItems(w http.ResponseWriter, r *http.Request, params NearbyItemsParams)
	// (GET /v1/items/recent)
	ListRecentItems(w http.ResponseWriter, r *http.Request, params RecentItemsParams)
	// (GET /v1/items/{itemId})
	GetItem(w http.ResponseWriter, r *http.Request, itemId string)
	// (PATCH /v1/items/{itemId})
	UpdateItem(w http.ResponseWriter, r *http.Request, itemId string)
	// (DELETE /v1/items/{itemId})
	DeleteItem(w http.ResponseWriter, r *http.Request, itemId string)
	// (GET /v1/items/{itemId}/transactions)
	ListItemTransactions(w http.ResponseWriter, r *http.Request, itemId string)
	// (GET /v1/items/{itemId}/transactions/open)
	ListOpenItemTransactions(w http.ResponseWriter, r *http.Request, itemId string)

	// (POST /v1/transactions)
	CreateTransaction(w http.ResponseWriter, r *http.Request)
	// (GET /v1/transactions/{transactionId})
	GetTransactionById(w http.ResponseWriter, r *http.Request, transactionId openapi_types.UUID)
	// (POST /v1/transactions/{transactionId}/approve)
	ApproveTransaction(w http.ResponseWriter, r *http.Request, transactionId openapi_types.UUID)
	// (POST /v1/transactions/{transactionId}/cancel)
	CancelTransaction(w http.ResponseWriter, r *http.Request, transactionId openapi_types.UUID)
	// (POST /v1/transactions/{transactionId}/transfer)
	TransferTransaction(w http.ResponseWriter, r *http.Request, transactionId openapi_types.UUID)
	// (POST /v1/transactions/{transactionId}/receive)
	ReceiveTransaction(w http.ResponseWriter, r *http.Request, transactionId openapi_types.UUID)

	// (GET /v1/categories/hot)
	ListHotCategories(w http.ResponseWriter, r *http.Request, params LimitParams)
	// (GET /v1/categories/recent)
	ListRecentCategories(w http.ResponseWriter, r *http.Request, params LimitParams)
	// (GET /v1/categories/default)
	ListDefaultCategories(w http.ResponseWriter, r *http.Request)

	// (GET /v1/exchange-points)
	ListExchangePoints(w http.ResponseWriter, r *http.Request, params PageParams)
	// (GET /v1/exchange-points/{userId}/items)
	ListExchangePointItems(w http.ResponseWriter, r *http.Request, userId string)
	// (GET /v1/exchange-points/{userId}/categories)
	ListExchangePointCategories(w http.ResponseWriter, r *http.Request, userId string, params LimitParams)
}

// InvalidParamFormatError is reported when a path or query parameter does not bind.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

// MiddlewareFunc wraps a single route.
type MiddlewareFunc func(http.Handler) http.Handler

// ServerInterfaceWrapper binds parameters before calling the ServerInterface.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, fn http.HandlerFunc) {
	handler := http.Handler(fn)
	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}
	handler.ServeHTTP(w, r)
}

func (siw *ServerInterfaceWrapper) pathParam(w http.ResponseWriter, r *http.Request, name string, dest any) bool {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return false
	}
	return true
}

func (siw *ServerInterfaceWrapper) queryParam(w http.ResponseWriter, r *http.Request, name string, required bool, dest any) bool {
	if err := runtime.BindQueryParameter("form", true, required, name, r.URL.Query(), dest); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return false
	}
	return true
}

func (siw *ServerInterfaceWrapper) withUserID(fn func(w http.ResponseWriter, r *http.Request, userId string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var userId string
		if !siw.pathParam(w, r, "userId", &userId) {
			return
		}
		siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) { fn(w, r, userId) })
	}
}

func (siw *ServerInterfaceWrapper) withItemID(fn func(w http.ResponseWriter, r *http.Request, itemId string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var itemId string
		if !siw.pathParam(w, r, "itemId", &itemId) {
			return
		}
		siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) { fn(w, r, itemId) })
	}
}

func (siw *ServerInterfaceWrapper) withTransactionID(fn func(w http.ResponseWriter, r *http.Request, transactionId openapi_types.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var transactionId openapi_types.UUID
		if !siw.pathParam(w, r, "transactionId", &transactionId) {
			return
		}
		siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) { fn(w, r, transactionId) })
	}
}

func (siw *ServerInterfaceWrapper) plain(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { siw.serve(w, r, fn) }
}

// ListNearbyUsers operation middleware
func (siw *ServerInterfaceWrapper) ListNearbyUsers(w http.ResponseWriter, r *http.Request) {
	var params NearbyParams
	if !siw.queryParam(w, r, "lat", true, &params.Lat) ||
		!siw.queryParam(w, r, "lng", true, &params.Lng) ||
		!siw.queryParam(w, r, "radius_km", true, &params.RadiusKm) {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) { siw.Handler.ListNearbyUsers(w, r, params) })
}

// ListNearbyItems operation middleware
func (siw *ServerInterfaceWrapper) ListNearbyItems(w http.ResponseWriter, r *http.Request) {
	var params NearbyItemsParams
	if !siw.queryParam(w, r, "lat", true, &params.Lat) ||
		!siw.queryParam(w, r, "lng", true, &params.Lng) ||
		!siw.queryParam(w, r, "radius_km", true, &params.RadiusKm) ||
		!siw.queryParam(w, r, "category", false, &params.Category) ||
		!siw.queryParam(w, r, "status", false, &params.Status) {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) { siw.Handler.ListNearbyItems(w, r, params) })
}

// ListUserItems operation middleware
func (siw *ServerInterfaceWrapper) ListUserItems(w http.ResponseWriter, r *http.Request) {
	var params ListUserItemsParams
	if !siw.queryParam(w, r, "held", false, &params.Held) ||
		!siw.queryParam(w, r, "category", false, &params.Category) ||
		!siw.queryParam(w, r, "status", false, &params.Status) ||
		!siw.queryParam(w, r, "keyword", false, &params.Keyword) ||
		!siw.queryParam(w, r, "limit", false, &params.Limit) ||
		!siw.queryParam(w, r, "offset", false, &params.Offset) {
		return
	}
	siw.withUserID(func(w http.ResponseWriter, r *http.Request, userId string) {
		siw.Handler.ListUserItems(w, r, userId, params)
	})(w, r)
}

// ListRecentItems operation middleware
func (siw *ServerInterfaceWrapper) ListRecentItems(w http.ResponseWriter, r *http.Request) {
	var params RecentItemsParams
	if !siw.queryParam(w, r, "category", false, &params.Category) ||
		!siw.queryParam(w, r, "limit", false, &params.Limit) ||
		!siw.queryParam(w, r, "offset", false, &params.Offset) {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) { siw.Handler.ListRecentItems(w, r, params) })
}

// ListExchangePoints operation middleware
func (siw *ServerInterfaceWrapper) ListExchangePoints(w http.ResponseWriter, r *http.Request) {
	var params PageParams
	if !siw.queryParam(w, r, "limit", false, &params.Limit) ||
		!siw.queryParam(w, r, "offset", false, &params.Offset) {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) { siw.Handler.ListExchangePoints(w, r, params) })
}

func (siw *ServerInterfaceWrapper) limited(fn func(w http.ResponseWriter, r *http.Request, params LimitParams)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params LimitParams
		if !siw.queryParam(w, r, "limit", false, &params.Limit) {
			return
		}
		siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) { fn(w, r, params) })
	}
}

// ListExchangePointCategories operation middleware
func (siw *ServerInterfaceWrapper) ListExchangePointCategories(w http.ResponseWriter, r *http.Request) {
	var params LimitParams
	if !siw.queryParam(w, r, "limit", false, &params.Limit) {
		return
	}
	siw.withUserID(func(w http.ResponseWriter, r *http.Request, userId string) {
		siw.Handler.ListExchangePointCategories(w, r, userId, params)
	})(w, r)
}

// ChiServerOptions configures HandlerWithOptions.
type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerFromMux creates http.Handler with routing matching the API, mounted on r.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{BaseRouter: r})
}

// HandlerWithOptions creates http.Handler with additional options.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}
	base := options.BaseURL

	r.Get(base+"/health", si.Health)

	r.Group(func(r chi.Router) {
		r.Post(base+"/v1/users/me", wrapper.plain(si.RegisterMe))
		r.Put(base+"/v1/users/me/location", wrapper.plain(si.UpdateMyLocation))
		r.Put(base+"/v1/users/me/exchange-points", wrapper.plain(si.SetMyExchangePoints))
		r.Get(base+"/v1/users/me/transactions", wrapper.plain(si.ListMyTransactions))
		r.Get(base+"/v1/users/nearby", wrapper.ListNearbyUsers)
		r.Get(base+"/v1/users/{userId}", wrapper.withUserID(si.GetUser))
		r.Get(base+"/v1/users/{userId}/items", wrapper.ListUserItems)

		r.Post(base+"/v1/items", wrapper.plain(si.CreateItem))
		r.Get(base+"/v1/items/nearby", wrapper.ListNearbyItems)
		r.Get(base+"/v1/items/recent", wrapper.ListRecentItems)
		r.Get(base+"/v1/items/{itemId}", wrapper.withItemID(si.GetItem))
		r.Patch(base+"/v1/items/{itemId}", wrapper.withItemID(si.UpdateItem))
		r.Delete(base+"/v1/items/{itemId}", wrapper.withItemID(si.DeleteItem))
		r.Get(base+"/v1/items/{itemId}/transactions", wrapper.withItemID(si.ListItemTransactions))
		r.Get(base+"/v1/items/{itemId}/transactions/open", wrapper.withItemID(si.ListOpenItemTransactions))

		r.Post(base+"/v1/transactions", wrapper.plain(si.CreateTransaction))
		r.Get(base+"/v1/transactions/{transactionId}", wrapper.withTransactionID(si.GetTransactionById))
		r.Post(base+"/v1/transactions/{transactionId}/approve", wrapper.withTransactionID(si.ApproveTransaction))
		r.Post(base+"/v1/transactions/{transactionId}/cancel", wrapper.withTransactionID(si.CancelTransaction))
		r.Post(base+"/v1/transactions/{transactionId}/transfer", wrapper.withTransactionID(si.TransferTransaction))
		r.Post(base+"/v1/transactions/{transactionId}/receive", wrapper.withTransactionID(si.ReceiveTransaction))

		r.Get(base+"/v1/categories/hot", wrapper.limited(si.ListHotCategories))
		r.Get(base+"/v1/categories/recent", wrapper.limited(si.ListRecentCategories))
		r.Get(base+"/v1/categories/default", wrapper.plain(si.ListDefaultCategories))

		r.Get(base+"/v1/exchange-points", wrapper.ListExchangePoints)
		r.Get(base+"/v1/exchange-points/{userId}/items", wrapper.withUserID(si.ListExchangePointItems))
		r.Get(base+"/v1/exchange-points/{userId}/categories", wrapper.ListExchangePointCategories)
	})
	return r
}
