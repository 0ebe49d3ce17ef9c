package categories

import (
	"context"
	"net/http"

	"github.com/chris/community-lending/pkg/api"
	"github.com/chris/community-lending/pkg/handlers/respond"
	"github.com/chris/community-lending/pkg/mapping"
	"github.com/chris/community-lending/pkg/models"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// CategoryReader serves the global and recommended category counters.
type CategoryReader interface {
	HotCategories(ctx context.Context, limit int32) ([]models.CategoryCounter, error)
	RecentCategories(ctx context.Context, limit int32) ([]models.CategoryCounter, error)
	DefaultCategories(ctx context.Context) ([]string, error)
}

// ExchangePointCategories serves the counters cached per exchange point.
type ExchangePointCategories interface {
	CategoriesAt(ctx context.Context, exchangePointID string, limit int32) ([]models.CategoryCounter, error)
}

// CategoriesHandler holds the dependencies for category-related handlers.
type CategoriesHandler struct {
	Ledger         CategoryReader
	ExchangePoints ExchangePointCategories
}

// NewCategoriesHandler creates a new CategoriesHandler.
func NewCategoriesHandler(ledger CategoryReader, exchangePoints ExchangePointCategories) *CategoriesHandler {
	return &CategoriesHandler{Ledger: ledger, ExchangePoints: exchangePoints}
}

// ListHotCategories returns the most used categories.
func (h *CategoriesHandler) ListHotCategories(w http.ResponseWriter, r *http.Request, params api.LimitParams) {
	counters, err := h.Ledger.HotCategories(r.Context(), limit(params))
	h.write(w, r, counters, err)
}

// ListRecentCategories returns the most recently used categories.
func (h *CategoriesHandler) ListRecentCategories(w http.ResponseWriter, r *http.Request, params api.LimitParams) {
	counters, err := h.Ledger.RecentCategories(r.Context(), limit(params))
	h.write(w, r, counters, err)
}

// ListDefaultCategories returns the recommended categories in their configured order.
func (h *CategoriesHandler) ListDefaultCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Ledger.DefaultCategories(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	respond.JSON(w, http.StatusOK, categories)
}

// ListExchangePointCategories returns the most common categories at an exchange point.
func (h *CategoriesHandler) ListExchangePointCategories(w http.ResponseWriter, r *http.Request, userId string, params api.LimitParams) {
	counters, err := h.ExchangePoints.CategoriesAt(r.Context(), userId, limit(params))
	h.write(w, r, counters, err)
}

func (h *CategoriesHandler) write(w http.ResponseWriter, r *http.Request, counters []models.CategoryCounter, err error) {
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiCategoryCounts(counters))
}

// limit clamps the requested page size to [1, maxLimit].
func limit(params api.LimitParams) int32 {
	if params.Limit == nil || *params.Limit <= 0 {
		return defaultLimit
	}
	if *params.Limit > maxLimit {
		return maxLimit
	}
	return *params.Limit
}
