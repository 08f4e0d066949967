package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/auth"
	"github.com/ariefcatur/go-storefront-checkout/internal/cart"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/ledger"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payments"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	userA   = "7b0c2b8e-2f1e-4c55-9d2a-1a1f5d0e0a01"
	userB   = "7b0c2b8e-2f1e-4c55-9d2a-1a1f5d0e0a02"
	product = "5d7f0b3c-8a41-4e0a-b1c2-33d4e5f60708"
	orderID = "0f9e8d7c-6b5a-4948-8776-655443322110"
)

type stubAuth struct {
	register func(ctx context.Context, name, email, password string) (auth.Session, error)
	login    func(ctx context.Context, email, password string) (auth.Session, error)
}

func (s stubAuth) Register(ctx context.Context, name, email, password string) (auth.Session, error) {
	return s.register(ctx, name, email, password)
}

func (s stubAuth) Login(ctx context.Context, email, password string) (auth.Session, error) {
	return s.login(ctx, email, password)
}

type stubOrders struct {
	place     func(ctx context.Context, in orders.PlaceInput) (orders.Order, bool, error)
	get       func(ctx context.Context, userID, id string) (orders.Order, error)
	list      func(ctx context.Context, userID string, page, limit int) (orders.Page, error)
	status    func(ctx context.Context, userID, id string) (orders.StatusView, error)
	cancel    func(ctx context.Context, userID, id string) (orders.Order, error)
	ret       func(ctx context.Context, userID, id string) (orders.Order, error)
	setStatus func(ctx context.Context, id string, to orders.Status, tracking string) (orders.Order, error)
}

func (s stubOrders) Place(ctx context.Context, in orders.PlaceInput) (orders.Order, bool, error) {
	return s.place(ctx, in)
}
func (s stubOrders) Get(ctx context.Context, userID, id string) (orders.Order, error) {
	return s.get(ctx, userID, id)
}
func (s stubOrders) List(ctx context.Context, userID string, page, limit int) (orders.Page, error) {
	return s.list(ctx, userID, page, limit)
}
func (s stubOrders) Status(ctx context.Context, userID, id string) (orders.StatusView, error) {
	return s.status(ctx, userID, id)
}
func (s stubOrders) Cancel(ctx context.Context, userID, id string) (orders.Order, error) {
	return s.cancel(ctx, userID, id)
}
func (s stubOrders) Return(ctx context.Context, userID, id string) (orders.Order, error) {
	return s.ret(ctx, userID, id)
}
func (s stubOrders) SetStatus(ctx context.Context, id string, to orders.Status, tracking string) (orders.Order, error) {
	return s.setStatus(ctx, id, to, tracking)
}

type stubCatalog struct{}

func (stubCatalog) Get(_ context.Context, id string) (catalog.Product, error) {
	if id != product {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return catalog.Product{ID: product, Title: "Tee", Price: decimal.NewFromInt(500)}, nil
}

func (stubCatalog) List(_ context.Context, page, limit int, _ string) ([]catalog.Product, int, error) {
	if (page-1)*limit < 0 {
		return nil, 0, errors.New("OFFSET must not be negative")
	}
	return nil, 0, nil
}

type stubCart struct{}

func (stubCart) Get(_ context.Context, userID string) (*cart.Cart, error) { return cart.New(userID), nil }
func (stubCart) PutItem(_ context.Context, userID string, it cart.Item) (*cart.Cart, error) {
	c := cart.New(userID)
	_, _, err := c.Put(it)
	return c, err
}
func (stubCart) RemoveItem(_ context.Context, _ string, _ cart.Key) (*cart.Cart, error) {
	return nil, cart.ErrItemNotFound
}

type stubPayments struct {
	create func(ctx context.Context, in payments.CreateIntentInput) (payments.Intent, error)
}

func (s stubPayments) CreateIntent(ctx context.Context, in payments.CreateIntentInput) (payments.Intent, error) {
	return s.create(ctx, in)
}

type stubWebhooks struct {
	handle func(ctx context.Context, payload []byte, sig string) (payments.Result, error)
}

func (s stubWebhooks) Handle(ctx context.Context, payload []byte, sig string) (payments.Result, error) {
	return s.handle(ctx, payload, sig)
}

type stubLedger struct{ credited decimal.Decimal }

func (s *stubLedger) Summary(_ context.Context, userID string, _ int) (ledger.Summary, error) {
	return ledger.Summary{UserID: userID}, nil
}

func (s *stubLedger) CreditWallet(_ context.Context, userID string, amount decimal.Decimal, reason string) (ledger.WalletTx, error) {
	if !amount.IsPositive() {
		return ledger.WalletTx{}, ledger.ErrInvalidAmount
	}
	s.credited = amount
	return ledger.WalletTx{UserID: userID, Kind: ledger.KindCredit, Amount: amount, Reason: reason}, nil
}

func (s *stubLedger) Reconcile(_ context.Context, userID string) (ledger.Drift, error) {
	return ledger.Drift{
		UserID:         userID,
		WalletStored:   decimal.NewFromInt(15),
		WalletReplayed: decimal.NewFromInt(10),
		PointsStored:   4,
		PointsReplayed: 4,
	}, nil
}

type env struct {
	router *chi.Mux
	tokens *auth.TokenMaker
}

func newEnv(t *testing.T, o stubOrders, p stubPayments, wh stubWebhooks, l *stubLedger) *env {
	t.Helper()
	tokens, err := auth.NewTokenMaker("secret", time.Hour)
	require.NoError(t, err)
	if l == nil {
		l = &stubLedger{}
	}
	r := NewRouter(nil)
	Mount(r, &auth.Authenticator{Tokens: tokens, Header: "X-Auth-Token"}, Handlers{
		Auth: &AuthHandler{Auth: stubAuth{
			login: func(_ context.Context, email, _ string) (auth.Session, error) {
				if email != "ann@example.com" {
					return auth.Session{}, auth.ErrInvalidCredentials
				}
				return auth.Session{Token: "tok"}, nil
			},
		}, Limiter: NewIPLimiter(rate.Every(time.Minute), 2, time.Hour)},
		Catalog:  &CatalogHandler{Catalog: stubCatalog{}},
		Cart:     &CartHandler{Cart: stubCart{}},
		Orders:   &OrdersHandler{Orders: o},
		Payments: &PaymentsHandler{Payments: p, Webhooks: wh},
		Ledger:   &LedgerHandler{Ledger: l},
	})
	return &env{router: r, tokens: tokens}
}

func (e *env) do(t *testing.T, method, path, user string, admin bool, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:4000"
	if user != "" {
		tok, err := e.tokens.Issue(user, admin)
		require.NoError(t, err)
		req.Header.Set("X-Auth-Token", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func orderBody(total string) map[string]any {
	addr := map[string]string{
		"name": "Ann", "phone": "999", "street": "1 Main <b>St</b>", "city": "Pune",
		"state": "MH", "postalCode": "411001", "country": "IN",
	}
	return map[string]any{
		"items":           []map[string]any{{"productId": product, "size": "M", "color": "red", "quantity": 2}},
		"shippingAddress": addr,
		"subtotal":        1000, "discount": 0, "shipping": 0, "tax": 180,
		"total":           json.Number(total),
		"paymentMethod":   "cod",
	}
}

func TestCreateOrder(t *testing.T) {
	var got orders.PlaceInput
	calls := 0
	o := stubOrders{place: func(_ context.Context, in orders.PlaceInput) (orders.Order, bool, error) {
		calls++
		got = in
		return orders.Order{
			ID: orderID, UserID: in.UserID, PaymentMethod: in.PaymentMethod,
			PaymentStatus: orders.PaymentPending, OrderStatus: orders.StatusPending,
			Totals: orders.Totals{Total: in.ClientTotal},
		}, calls == 1, nil
	}}
	e := newEnv(t, o, stubPayments{}, stubWebhooks{}, nil)

	rec := e.do(t, http.MethodPost, "/api/orders", userA, false, orderBody("1180"), "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, orders.StatusPending, out.OrderStatus)
	assert.Equal(t, orders.PaymentPending, out.PaymentStatus)
	assert.True(t, out.Total.Equal(decimal.NewFromInt(1180)))

	assert.Equal(t, userA, got.UserID)
	assert.Equal(t, "k1", got.IdempotencyKey)
	assert.Equal(t, "1 Main St", got.Shipping.Street)
	assert.Nil(t, got.Billing)
	assert.Equal(t, []orders.Line{{ProductID: product, Size: "M", Color: "red", Quantity: 2}}, got.Items)

	rec = e.do(t, http.MethodPost, "/api/orders", userA, false, orderBody("1180"), "Idempotency-Key", "k1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateOrderTotalMismatch(t *testing.T) {
	server := orders.Quote{Totals: orders.Totals{Total: decimal.NewFromInt(1180)}}
	o := stubOrders{place: func(_ context.Context, in orders.PlaceInput) (orders.Order, bool, error) {
		return orders.Order{}, false, orders.CheckTotal(in.ClientTotal, server, decimal.RequireFromString("0.01"))
	}}
	e := newEnv(t, o, stubPayments{}, stubWebhooks{}, nil)

	rec := e.do(t, http.MethodPost, "/api/orders", userA, false, orderBody("1"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := errorBody(t, rec)
	assert.Equal(t, "total mismatch", body["error"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1180", fmt.Sprint(details["total"]))
}

func TestCreateOrderValidation(t *testing.T) {
	e := newEnv(t, stubOrders{}, stubPayments{}, stubWebhooks{}, nil)

	body := orderBody("1180")
	body["items"] = []map[string]any{}
	rec := e.do(t, http.MethodPost, "/api/orders", userA, false, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = orderBody("1180")
	body["paymentMethod"] = "bitcoin"
	rec = e.do(t, http.MethodPost, "/api/orders", userA, false, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = orderBody("1180")
	delete(body["shippingAddress"].(map[string]string), "city")
	rec = e.do(t, http.MethodPost, "/api/orders", userA, false, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t, stubOrders{}, stubPayments{}, stubWebhooks{}, nil)
	rec := e.do(t, http.MethodGet, "/api/orders", "", false, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/orders", "", false, nil, "X-Auth-Token", "Bearer junk")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOrderReadsAreOwnerScoped(t *testing.T) {
	o := stubOrders{
		get: func(_ context.Context, userID, id string) (orders.Order, error) {
			if userID != userA {
				return orders.Order{}, orders.ErrNotFound
			}
			return orders.Order{ID: id, UserID: userID}, nil
		},
		list: func(_ context.Context, userID string, page, limit int) (orders.Page, error) {
			assert.Equal(t, userB, userID)
			assert.Equal(t, 2, page)
			assert.Equal(t, 5, limit)
			return orders.Page{CurrentPage: page}, nil
		},
		status: func(_ context.Context, _, _ string) (orders.StatusView, error) {
			return orders.StatusView{Status: orders.StatusShipped, PaymentStatus: orders.PaymentPaid}, nil
		},
	}
	e := newEnv(t, o, stubPayments{}, stubWebhooks{}, nil)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/orders/"+orderID, userA, false, nil).Code)
	rec := e.do(t, http.MethodGet, "/api/orders/"+orderID, userB, false, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, float64(404), errorBody(t, rec)["code"])

	rec = e.do(t, http.MethodGet, "/api/orders?page=2&limit=5", userB, false, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"orders":[],"currentPage":2,"totalPages":0,"hasMore":false}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/orders?page=x", userB, false, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/orders/"+orderID+"/status", userA, false, nil)
	assert.JSONEq(t, `{"status":"shipped","paymentStatus":"paid"}`, rec.Body.String())
}

func TestCancelAndReturnErrors(t *testing.T) {
	o := stubOrders{
		cancel: func(_ context.Context, userID, id string) (orders.Order, error) {
			if userID == userB {
				return orders.Order{}, orders.ErrNotFound
			}
			return orders.Order{}, fmt.Errorf("%w: delivered -> cancelled", orders.ErrInvalidTransition)
		},
		ret: func(_ context.Context, _, id string) (orders.Order, error) {
			return orders.Order{ID: id, OrderStatus: orders.StatusReturned}, nil
		},
	}
	e := newEnv(t, o, stubPayments{}, stubWebhooks{}, nil)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPut, "/api/orders/"+orderID+"/cancel", userB, false, nil).Code)
	rec := e.do(t, http.MethodPut, "/api/orders/"+orderID+"/cancel", userA, false, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid order status transition", errorBody(t, rec)["error"])
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/orders/"+orderID+"/return", userA, false, nil).Code)
}

func TestAdminStatus(t *testing.T) {
	var got orders.Status
	o := stubOrders{setStatus: func(_ context.Context, id string, to orders.Status, _ string) (orders.Order, error) {
		got = to
		return orders.Order{ID: id, OrderStatus: to}, nil
	}}
	e := newEnv(t, o, stubPayments{}, stubWebhooks{}, nil)

	body := map[string]string{"status": "SHIPPED"}
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPut, "/api/admin/orders/"+orderID+"/status", userA, false, body).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/admin/orders/"+orderID+"/status", userA, true, body).Code)
	assert.Equal(t, orders.StatusShipped, got)
}

func TestCreateIntent(t *testing.T) {
	p := stubPayments{create: func(_ context.Context, in payments.CreateIntentInput) (payments.Intent, error) {
		if in.OrderID != "" {
			return payments.Intent{}, payments.ErrAmountMismatch
		}
		if in.Amount.Equal(decimal.NewFromInt(13)) {
			return payments.Intent{}, fmt.Errorf("%w: card declined", payments.ErrProcessor)
		}
		return payments.Intent{ClientSecret: "pi_1_secret", IntentID: "pi_1"}, nil
	}}
	e := newEnv(t, stubOrders{}, p, stubWebhooks{}, nil)

	rec := e.do(t, http.MethodPost, "/api/payments/create-intent", userA, false, map[string]any{"amount": 1180, "currency": "inr"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"clientSecret":"pi_1_secret","intentId":"pi_1"}`, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/payments/create-intent", userA, false, map[string]any{"amount": 13})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/payments/create-intent", userA, false, map[string]any{"amount": 1, "orderId": orderID})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWebhook(t *testing.T) {
	wh := stubWebhooks{handle: func(_ context.Context, payload []byte, sig string) (payments.Result, error) {
		if sig != "good" {
			return payments.Result{}, fmt.Errorf("%w: no valid signature", payments.ErrBadSignature)
		}
		return payments.Result{Received: true}, nil
	}}
	e := newEnv(t, stubOrders{}, stubPayments{}, wh, nil)

	rec := e.do(t, http.MethodPost, "/api/webhook", "", false, map[string]string{"id": "evt_1"}, "Stripe-Signature", "bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/webhook", "", false, map[string]string{"id": "evt_1"}, "Stripe-Signature", "good")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestLedgerRoutes(t *testing.T) {
	l := &stubLedger{}
	e := newEnv(t, stubOrders{}, stubPayments{}, stubWebhooks{}, l)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/users/"+userA+"/ledger", userA, false, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/users/"+userA+"/ledger", userB, false, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/users/"+userA+"/ledger", userB, true, nil).Code)

	path := "/api/admin/users/" + userA + "/wallet/credit"
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, path, userA, false, map[string]any{"amount": 10}).Code)
	assert.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, path, userB, true, map[string]any{"amount": 10}).Code)
	assert.True(t, l.credited.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, path, userB, true, map[string]any{"amount": -1}).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/api/admin/users/nope/wallet/credit", userB, true, map[string]any{"amount": 1}).Code)

	audit := "/api/admin/users/" + userA + "/ledger/reconcile"
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, audit, userA, false, nil).Code)
	rec := e.do(t, http.MethodGet, audit, userB, true, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var drift struct {
		UserID     string `json:"userId"`
		Consistent bool   `json:"consistent"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drift))
	assert.Equal(t, userA, drift.UserID)
	assert.False(t, drift.Consistent)
}

func TestCatalogAndCart(t *testing.T) {
	e := newEnv(t, stubOrders{}, stubPayments{}, stubWebhooks{}, nil)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/products/"+product, "", false, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/products/"+orderID, "", false, nil).Code)
	rec := e.do(t, http.MethodGet, "/api/products", "", false, nil)
	assert.JSONEq(t, `{"products":[],"currentPage":1,"totalPages":0,"hasMore":false}`, rec.Body.String())
	rec = e.do(t, http.MethodGet, "/api/products?page=9223372036854775807", "", false, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"products":[],"currentPage":1000000,"totalPages":0,"hasMore":false}`, rec.Body.String())
	rec = e.do(t, http.MethodGet, "/api/products?page=99999999999999999999", "", false, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	item := map[string]any{"productId": product, "size": "M", "color": "red", "quantity": 0}
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPut, "/api/cart/items", userA, false, item).Code)
	item["quantity"] = 2
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/cart/items", userA, false, item).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/api/cart/items", userA, false, item).Code)
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	e := newEnv(t, stubOrders{}, stubPayments{}, stubWebhooks{}, nil)
	creds := map[string]string{"email": "ann@example.com", "password": "pw"}

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/auth/login", "", false, creds).Code)
	creds["email"] = "bob@example.com"
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodPost, "/api/auth/login", "", false, creds).Code)
	assert.Equal(t, http.StatusTooManyRequests, e.do(t, http.MethodPost, "/api/auth/login", "", false, creds).Code)
}

func TestMapErrorHidesInternalText(t *testing.T) {
	e := mapError(errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, e.Code)
	assert.Equal(t, "internal server error", e.Message)

	e = mapError(&catalog.StockError{Lines: []catalog.ShortLine{{ProductID: product, Size: "M", Required: 3, Available: 1}}})
	assert.Equal(t, http.StatusUnprocessableEntity, e.Code)
	assert.Len(t, e.Details, 1)

	assert.Equal(t, http.StatusUnprocessableEntity, mapError(ledger.ErrInsufficientBalance).Code)
	assert.Equal(t, http.StatusConflict, mapError(auth.ErrEmailTaken).Code)
}
