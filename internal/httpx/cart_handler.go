package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-storefront-checkout/internal/cart"
	"github.com/go-chi/chi/v5"
)

type CartService interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
	PutItem(ctx context.Context, userID string, it cart.Item) (*cart.Cart, error)
	RemoveItem(ctx context.Context, userID string, k cart.Key) (*cart.Cart, error)
}

type CartHandler struct {
	Cart CartService
}

type cartItemReq struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Size      string `json:"size" validate:"max=32"`
	Color     string `json:"color" validate:"max=32"`
	Quantity  int    `json:"quantity" validate:"omitempty,min=1,max=100"`
}

// Register mounts the cart routes; r must already authenticate.
func (h *CartHandler) Register(r chi.Router) {
	r.Get("/api/cart", h.get)
	r.Put("/api/cart/items", h.put)
	r.Delete("/api/cart/items", h.remove)
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.Cart.Get(r.Context(), claims(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CartHandler) put(w http.ResponseWriter, r *http.Request) {
	var req cartItemReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Cart.PutItem(r.Context(), claims(r).UserID, cart.Item{
		ProductID: req.ProductID, Size: req.Size, Color: req.Color, Quantity: req.Quantity,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	var req cartItemReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Cart.RemoveItem(r.Context(), claims(r).UserID, cart.Key{
		ProductID: req.ProductID, Size: req.Size, Color: req.Color,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
