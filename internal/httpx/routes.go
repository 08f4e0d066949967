package httpx

import (
	"github.com/ariefcatur/go-storefront-checkout/internal/auth"
	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	Auth     *AuthHandler
	Catalog  *CatalogHandler
	Cart     *CartHandler
	Orders   *OrdersHandler
	Payments *PaymentsHandler
	Ledger   *LedgerHandler
}

// Mount wires every route group behind the middleware it needs.
func Mount(r chi.Router, authn *auth.Authenticator, h Handlers) {
	h.Auth.Register(r)
	h.Catalog.Register(r)
	h.Payments.RegisterWebhook(r)

	r.Group(func(r chi.Router) {
		r.Use(authn.Middleware)
		h.Cart.Register(r)
		h.Orders.Register(r)
		h.Payments.Register(r)
		h.Ledger.Register(r)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			h.Orders.RegisterAdmin(r)
			h.Ledger.RegisterAdmin(r)
		})
	})
}
