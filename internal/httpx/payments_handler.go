package httpx

import (
	"context"
	"io"
	"net/http"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/ariefcatur/go-storefront-checkout/internal/payments"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type IntentCreator interface {
	CreateIntent(ctx context.Context, in payments.CreateIntentInput) (payments.Intent, error)
}

type WebhookReconciler interface {
	Handle(ctx context.Context, payload []byte, signature string) (payments.Result, error)
}

type PaymentsHandler struct {
	Payments IntentCreator
	Webhooks WebhookReconciler
}

type createIntentReq struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
	OrderID  string          `json:"orderId" validate:"omitempty,uuid"`
}

// Register mounts intent creation; r must already authenticate.
func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/api/payments/create-intent", h.createIntent)
}

// RegisterWebhook mounts the processor callback, which carries no token.
func (h *PaymentsHandler) RegisterWebhook(r chi.Router) {
	r.Post("/api/webhook", h.webhook)
}

func (h *PaymentsHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	intent, err := h.Payments.CreateIntent(r.Context(), payments.CreateIntentInput{
		UserID:   claims(r).UserID,
		Amount:   req.Amount,
		Currency: req.Currency,
		OrderID:  req.OrderID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(w, r, apperr.BadRequest("unreadable body", err))
		return
	}
	res, err := h.Webhooks.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
