package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
)

type OrderService interface {
	Place(ctx context.Context, in orders.PlaceInput) (orders.Order, bool, error)
	Get(ctx context.Context, userID, id string) (orders.Order, error)
	List(ctx context.Context, userID string, page, limit int) (orders.Page, error)
	Status(ctx context.Context, userID, id string) (orders.StatusView, error)
	Cancel(ctx context.Context, userID, id string) (orders.Order, error)
	Return(ctx context.Context, userID, id string) (orders.Order, error)
	SetStatus(ctx context.Context, id string, to orders.Status, tracking string) (orders.Order, error)
}

type OrdersHandler struct {
	Orders OrderService
}

type orderItemReq struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Size      string `json:"size" validate:"max=32"`
	Color     string `json:"color" validate:"max=32"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=100"`
}

type CreateOrderReq struct {
	Items           []orderItemReq  `json:"items" validate:"required,min=1,max=50,dive"`
	ShippingAddress orders.Address  `json:"shippingAddress"`
	BillingAddress  *orders.Address `json:"billingAddress" validate:"omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	Shipping        decimal.Decimal `json:"shipping"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   string          `json:"paymentMethod" validate:"required,oneof=card wallet cod"`
	PointsUsed      int64           `json:"pointsUsed" validate:"min=0"`
}

type statusReq struct {
	Status         string `json:"status" validate:"required"`
	TrackingNumber string `json:"trackingNumber" validate:"max=64"`
}

type statusResp struct {
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"paymentStatus"`
}

// Register mounts the customer routes; r must already authenticate.
func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/api/orders", h.createOrder)
	r.Get("/api/orders", h.listOrders)
	r.Get("/api/orders/{id}", h.getOrder)
	r.Get("/api/orders/{id}/status", h.getStatus)
	r.Put("/api/orders/{id}/cancel", h.cancelOrder)
	r.Put("/api/orders/{id}/return", h.returnOrder)
}

// RegisterAdmin mounts the admin routes; r must already require an admin.
func (h *OrdersHandler) RegisterAdmin(r chi.Router) {
	r.Put("/api/admin/orders/{id}/status", h.setStatus)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(key) > 255 {
		writeError(w, r, apperr.BadRequest("Idempotency-Key too long", nil))
		return
	}

	in := orders.PlaceInput{
		UserID:         claims(r).UserID,
		IdempotencyKey: key,
		Shipping:       sanitizeAddress(req.ShippingAddress),
		ClientTotal:    req.Total,
		PaymentMethod:  orders.PaymentMethod(req.PaymentMethod),
		PointsUsed:     req.PointsUsed,
	}
	if req.BillingAddress != nil {
		b := sanitizeAddress(*req.BillingAddress)
		in.Billing = &b
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, orders.Line{
			ProductID: it.ProductID, Size: it.Size, Color: it.Color, Quantity: it.Quantity,
		})
	}

	o, created, err := h.Orders.Place(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	writeJSON(w, code, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", orders.DefaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Orders.List(r.Context(), claims(r).UserID, page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p.Orders == nil {
		p.Orders = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), claims(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.Orders.Status(r.Context(), claims(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{Status: v.Status, PaymentStatus: v.PaymentStatus})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Cancel(r.Context(), claims(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) returnOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Return(r.Context(), claims(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.SetStatus(r.Context(), chi.URLParam(r, "id"),
		orders.Status(strings.ToLower(req.Status)), strings.TrimSpace(req.TrackingNumber))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

var plainText = bluemonday.StrictPolicy()

// sanitizeAddress strips markup from the free-text fields stored on the order.
func sanitizeAddress(a orders.Address) orders.Address {
	clean := func(s string) string { return strings.TrimSpace(plainText.Sanitize(s)) }
	return orders.Address{
		Name:       clean(a.Name),
		Phone:      clean(a.Phone),
		Street:     clean(a.Street),
		City:       clean(a.City),
		State:      clean(a.State),
		PostalCode: clean(a.PostalCode),
		Country:    clean(a.Country),
	}
}
