package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Refund(ctx context.Context, intentID, idempotencyKey string) (string, error)
}

type OrderReader interface {
	GetForUser(ctx context.Context, id, userID string) (orders.Order, error)
}

type Service struct {
	Orders   OrderReader
	Gateway  Gateway
	Currency string
}

type CreateIntentInput struct {
	UserID   string
	Amount   decimal.Decimal
	Currency string
	OrderID  string
}

// CreateIntent opens a processor intent. Nothing is stored locally; the
// webhook records the outcome.
func (s *Service) CreateIntent(ctx context.Context, in CreateIntentInput) (Intent, error) {
	if !in.Amount.IsPositive() {
		return Intent{}, ErrInvalidAmount
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	base := strings.ToLower(s.Currency)
	if currency == "" {
		currency = base
	}

	req := IntentRequest{
		Currency: currency,
		Metadata: map[string]string{"userId": in.UserID},
	}
	if in.OrderID != "" {
		o, err := s.Orders.GetForUser(ctx, in.OrderID, in.UserID)
		if err != nil {
			return Intent{}, err
		}
		switch {
		case o.PaymentMethod != orders.MethodCard:
			return Intent{}, ErrNotCardOrder
		case o.PaymentStatus == orders.PaymentPaid || o.PaymentStatus == orders.PaymentRefunded:
			return Intent{}, ErrAlreadyPaid
		case currency != base:
			return Intent{}, fmt.Errorf("%w: orders are charged in %s", ErrAmountMismatch, base)
		case !o.Total.Equal(in.Amount):
			return Intent{}, ErrAmountMismatch
		}
		req.Metadata["orderId"] = o.ID
		req.IdempotencyKey = "order:" + o.ID
	}
	req.Amount = ToMinor(in.Amount, req.Currency)

	intent, err := s.Gateway.CreateIntent(ctx, req)
	if err != nil {
		logx.From(ctx).Error("create payment intent", zap.String("order_id", in.OrderID), zap.Error(err))
		return Intent{}, err
	}
	logx.From(ctx).Info("payment intent created",
		zap.String("intent_id", intent.IntentID),
		zap.String("order_id", in.OrderID),
		zap.Int64("amount", req.Amount),
		zap.String("currency", currency),
	)
	return intent, nil
}
