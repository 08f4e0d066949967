package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-storefront-checkout/internal/auth"
	"github.com/ariefcatur/go-storefront-checkout/internal/ledger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LedgerService interface {
	Summary(ctx context.Context, userID string, limit int) (ledger.Summary, error)
	CreditWallet(ctx context.Context, userID string, amount decimal.Decimal, reason string) (ledger.WalletTx, error)
	Reconcile(ctx context.Context, userID string) (ledger.Drift, error)
}

type LedgerHandler struct {
	Ledger LedgerService
}

type driftResp struct {
	ledger.Drift
	Consistent bool `json:"consistent"`
}

type creditReq struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"max=64"`
}

// Register mounts the summary route; r must already authenticate.
func (h *LedgerHandler) Register(r chi.Router) {
	r.With(auth.RequireSelfOrAdmin("userID")).Get("/api/users/{userID}/ledger", h.summary)
}

// RegisterAdmin mounts the wallet credit and balance audit routes; r must
// already require an admin.
func (h *LedgerHandler) RegisterAdmin(r chi.Router) {
	r.Post("/api/admin/users/{userID}/wallet/credit", h.credit)
	r.Get("/api/admin/users/{userID}/ledger/reconcile", h.reconcile)
}

func (h *LedgerHandler) summary(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.Ledger.Summary(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *LedgerHandler) credit(w http.ResponseWriter, r *http.Request) {
	var req creditReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	userID, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = ledger.ReasonAdminCredit
	}
	tx, err := h.Ledger.CreditWallet(r.Context(), userID, req.Amount, reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *LedgerHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.Ledger.Reconcile(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, driftResp{Drift: d, Consistent: d.Consistent()})
}

func pathUser(r *http.Request) (string, error) {
	id := chi.URLParam(r, "userID")
	if _, err := uuid.Parse(id); err != nil {
		return "", ledger.ErrUserNotFound
	}
	return id, nil
}
