package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/go-chi/chi/v5"
)

type CatalogReader interface {
	Get(ctx context.Context, id string) (catalog.Product, error)
	List(ctx context.Context, page, limit int, category string) ([]catalog.Product, int, error)
}

type CatalogHandler struct {
	Catalog CatalogReader
}

type productPage struct {
	Products    []catalog.Product `json:"products"`
	CurrentPage int               `json:"currentPage"`
	TotalPages  int               `json:"totalPages"`
	HasMore     bool              `json:"hasMore"`
}

func (h *CatalogHandler) Register(r chi.Router) {
	r.Get("/api/products", h.list)
	r.Get("/api/products/{id}", h.get)
}

func (h *CatalogHandler) list(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	ps, total, err := h.Catalog.List(r.Context(), page, limit, r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []catalog.Product{}
	}
	pages := (total + limit - 1) / limit
	writeJSON(w, http.StatusOK, productPage{Products: ps, CurrentPage: page, TotalPages: pages, HasMore: page < pages})
}

func (h *CatalogHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
