package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-storefront-checkout/internal/apperr"
	"github.com/ariefcatur/go-storefront-checkout/internal/auth"
	"github.com/ariefcatur/go-storefront-checkout/internal/cart"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/ledger"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payments"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBody = 1 << 20

var validate = validator.New()

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its HTTP form. 5xx causes are logged, never sent.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := mapError(err)
	if e.Code >= http.StatusInternalServerError {
		logx.From(r.Context()).Error("request failed", zap.Int("status", e.Code), zap.Error(err))
	}
	writeJSON(w, e.Code, e)
}

func mapError(err error) *apperr.Error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	var mismatch *orders.MismatchError
	if errors.As(err, &mismatch) {
		return apperr.Unprocessable("total mismatch", err).WithDetails(mismatch.Server)
	}
	var short *catalog.StockError
	if errors.As(err, &short) {
		return apperr.Unprocessable("insufficient stock", err).WithDetails(short.Lines)
	}
	var verr validator.ValidationErrors
	if errors.As(err, &verr) {
		return apperr.BadRequest("validation failed", err).WithDetails(fieldErrors(verr))
	}

	switch {
	case errors.Is(err, orders.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, ledger.ErrUserNotFound):
		return apperr.NotFound(msg(err), err)
	case errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, orders.ErrInvalidMethod),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, payments.ErrBadSignature):
		return apperr.BadRequest(msg(err), err)
	case errors.Is(err, auth.ErrInvalidCredentials):
		return apperr.Unauthorized(msg(err), err)
	case errors.Is(err, auth.ErrInvalidToken):
		return apperr.Forbidden(msg(err), err)
	case errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, payments.ErrNotCardOrder),
		errors.Is(err, payments.ErrAlreadyPaid):
		return apperr.Conflict(msg(err), err)
	case errors.Is(err, orders.ErrUnknownProduct),
		errors.Is(err, catalog.ErrUnknownSize),
		errors.Is(err, orders.ErrEmptyOrder),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, payments.ErrAmountMismatch):
		return apperr.Unprocessable(err.Error(), err)
	case errors.Is(err, payments.ErrProcessor):
		return apperr.BadGateway(msg(err), err)
	}
	return apperr.Internal(err)
}

// msg is the outermost sentinel text, without wrapped detail.
func msg(err error) string {
	s := err.Error()
	if i := strings.Index(s, ": "); i > 0 {
		return s[:i]
	}
	return s
}

func fieldErrors(verr validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verr))
	for _, fe := range verr {
		out[fe.Namespace()] = fe.Tag()
	}
	return out
}

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		return apperr.BadRequest("invalid json", err)
	}
	if err := validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

// maxQueryInt bounds paging parameters so offsets cannot overflow.
const maxQueryInt = 1_000_000

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		var numErr *strconv.NumError
		if !errors.As(err, &numErr) || !errors.Is(numErr.Err, strconv.ErrRange) {
			return 0, apperr.BadRequest(fmt.Sprintf("invalid %s", key), err)
		}
	}
	return min(n, maxQueryInt), nil
}

func claims(r *http.Request) auth.Claims {
	c, _ := auth.FromContext(r.Context())
	return c
}
