package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
)

type mockGateway struct{ mock.Mock }

func (m *mockGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Intent), args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, intentID, key string) (string, error) {
	args := m.Called(ctx, intentID, key)
	return args.String(0), args.Error(1)
}

type orderMap map[string]orders.Order

func (o orderMap) GetForUser(_ context.Context, id, userID string) (orders.Order, error) {
	ord, ok := o[id]
	if !ok || ord.UserID != userID {
		return orders.Order{}, orders.ErrNotFound
	}
	return ord, nil
}

func cardOrder() orders.Order {
	return orders.Order{
		ID: orderO1, UserID: userU1,
		PaymentMethod: orders.MethodCard, PaymentStatus: orders.PaymentPending,
		Totals: orders.Totals{Total: decimal.RequireFromString("1180")},
	}
}

func TestToMinor(t *testing.T) {
	assert.Equal(t, int64(118000), ToMinor(decimal.RequireFromString("1180"), "inr"))
	assert.Equal(t, int64(1999), ToMinor(decimal.RequireFromString("19.99"), "usd"))
	assert.Equal(t, int64(1180), ToMinor(decimal.RequireFromString("1180"), "JPY"))
	assert.Equal(t, int64(1), ToMinor(decimal.RequireFromString("0.005"), "usd"))
}

func TestCreateIntentForOrder(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CreateIntent", mock.Anything, IntentRequest{
		Amount:         118000,
		Currency:       "inr",
		Metadata:       map[string]string{"userId": userU1, "orderId": orderO1},
		IdempotencyKey: "order:" + orderO1,
	}).Return(Intent{ClientSecret: "pi_1_secret", IntentID: "pi_1"}, nil).Once()

	svc := &Service{Orders: orderMap{orderO1: cardOrder()}, Gateway: gw, Currency: "inr"}
	in, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		UserID: userU1, Amount: decimal.RequireFromString("1180"), OrderID: orderO1,
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", in.IntentID)
	assert.Equal(t, "pi_1_secret", in.ClientSecret)
	gw.AssertExpectations(t)
}

func TestCreateIntentChecksOrder(t *testing.T) {
	paid := cardOrder()
	paid.PaymentStatus = orders.PaymentPaid
	cod := cardOrder()
	cod.PaymentMethod = orders.MethodCOD

	cases := []struct {
		name   string
		order  orders.Order
		user   string
		amount string
		want   error
	}{
		{"foreign", cardOrder(), "99999999-9999-9999-9999-999999999999", "1180", orders.ErrNotFound},
		{"paid", paid, userU1, "1180", ErrAlreadyPaid},
		{"cod", cod, userU1, "1180", ErrNotCardOrder},
		{"amount", cardOrder(), userU1, "1", ErrAmountMismatch},
		{"zero", cardOrder(), userU1, "0", ErrInvalidAmount},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			gw := &mockGateway{}
			svc := &Service{Orders: orderMap{orderO1: c.order}, Gateway: gw, Currency: "inr"}
			_, err := svc.CreateIntent(context.Background(), CreateIntentInput{
				UserID: c.user, Amount: decimal.RequireFromString(c.amount), OrderID: orderO1,
			})
			assert.ErrorIs(t, err, c.want)
			gw.AssertNotCalled(t, "CreateIntent", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateIntentForOrderIsChargedInStoreCurrency(t *testing.T) {
	gw := &mockGateway{}
	svc := &Service{Orders: orderMap{orderO1: cardOrder()}, Gateway: gw, Currency: "inr"}

	_, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		UserID: userU1, Amount: decimal.RequireFromString("1180"), Currency: "jpy", OrderID: orderO1,
	})
	assert.ErrorIs(t, err, ErrAmountMismatch)
	gw.AssertNotCalled(t, "CreateIntent", mock.Anything, mock.Anything)

	gw.On("CreateIntent", mock.Anything, mock.MatchedBy(func(r IntentRequest) bool {
		return r.Amount == 118000 && r.Currency == "inr"
	})).Return(Intent{IntentID: "pi_1"}, nil).Once()
	_, err = svc.CreateIntent(context.Background(), CreateIntentInput{
		UserID: userU1, Amount: decimal.RequireFromString("1180"), Currency: " INR ", OrderID: orderO1,
	})
	require.NoError(t, err)
	gw.AssertExpectations(t)
}

func TestCovers(t *testing.T) {
	total := decimal.RequireFromString("1180")
	assert.True(t, Covers(Payment{Amount: 118000, Currency: "inr"}, total, "inr"))
	assert.True(t, Covers(Payment{Amount: 118000, Currency: "INR"}, total, "inr"))
	assert.False(t, Covers(Payment{Amount: 1180, Currency: "jpy"}, total, "inr"))
	assert.False(t, Covers(Payment{Amount: 1180, Currency: "inr"}, total, "inr"))
	assert.False(t, Covers(Payment{Amount: 117999, Currency: "inr"}, total, "inr"))
}

func TestCreateIntentWithoutOrder(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CreateIntent", mock.Anything, mock.MatchedBy(func(r IntentRequest) bool {
		return r.Amount == 1999 && r.Currency == "usd" && r.IdempotencyKey == "" && r.Metadata["userId"] == userU1
	})).Return(Intent{IntentID: "pi_2"}, nil)

	svc := &Service{Orders: orderMap{}, Gateway: gw, Currency: "inr"}
	in, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		UserID: userU1, Amount: decimal.RequireFromString("19.99"), Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_2", in.IntentID)
}

func TestCreateIntentProcessorError(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CreateIntent", mock.Anything, mock.Anything).Return(Intent{}, ErrProcessor)
	svc := &Service{Orders: orderMap{}, Gateway: gw, Currency: "inr"}

	_, err := svc.CreateIntent(context.Background(), CreateIntentInput{UserID: userU1, Amount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, ErrProcessor)
}

type fakeIntents struct {
	got *stripe.PaymentIntentParams
	err error
}

func (f *fakeIntents) New(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.got = p
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.PaymentIntent{ID: "pi_9", ClientSecret: "pi_9_secret"}, nil
}

type fakeRefunds struct{ got *stripe.RefundParams }

func (f *fakeRefunds) New(p *stripe.RefundParams) (*stripe.Refund, error) {
	f.got = p
	return &stripe.Refund{ID: "re_9"}, nil
}

func TestStripeGatewayParams(t *testing.T) {
	intents := &fakeIntents{}
	refunds := &fakeRefunds{}
	g := &StripeGateway{intents: intents, refunds: refunds}

	in, err := g.CreateIntent(context.Background(), IntentRequest{
		Amount: 118000, Currency: "INR", Metadata: map[string]string{"orderId": orderO1}, IdempotencyKey: "order:" + orderO1,
	})
	require.NoError(t, err)
	assert.Equal(t, Intent{ClientSecret: "pi_9_secret", IntentID: "pi_9"}, in)
	assert.Equal(t, int64(118000), *intents.got.Amount)
	assert.Equal(t, "inr", *intents.got.Currency)
	assert.Equal(t, orderO1, intents.got.Metadata["orderId"])
	assert.Equal(t, "order:"+orderO1, *intents.got.IdempotencyKey)

	id, err := g.Refund(context.Background(), "pi_9", "refund:"+orderO1)
	require.NoError(t, err)
	assert.Equal(t, "re_9", id)
	assert.Equal(t, "pi_9", *refunds.got.PaymentIntent)

	intents.err = errors.New("card_declined")
	_, err = g.CreateIntent(context.Background(), IntentRequest{Amount: 1, Currency: "inr"})
	assert.ErrorIs(t, err, ErrProcessor)
}
