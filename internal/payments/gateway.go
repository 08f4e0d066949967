package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
)

type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type refundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type IntentRequest struct {
	Amount         int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// StripeGateway talks to the processor through the narrow APIs it needs.
type StripeGateway struct {
	intents intentAPI
	refunds refundAPI
}

func NewStripeGateway(secretKey string) (*StripeGateway, error) {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	sc := client.New(key, nil)
	return &StripeGateway{intents: sc.PaymentIntents, refunds: sc.Refunds}, nil
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: create intent: %v", ErrProcessor, err)
	}
	return Intent{ClientSecret: pi.ClientSecret, IntentID: pi.ID}, nil
}

// Refund refunds the full captured amount of an intent.
func (g *StripeGateway) Refund(ctx context.Context, intentID, idempotencyKey string) (string, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	r, err := g.refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: refund %s: %v", ErrProcessor, intentID, err)
	}
	return r.ID, nil
}
