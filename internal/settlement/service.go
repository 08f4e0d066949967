package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kafkax "github.com/ariefcatur/go-storefront-checkout/internal/kafka"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payments"
	"github.com/ariefcatur/go-storefront-checkout/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type OrderStore interface {
	Get(ctx context.Context, id string) (orders.Order, error)
	CreditDeliveryPoints(ctx context.Context, orderID string) (bool, error)
}

type PaymentStore interface {
	SucceededForOrder(ctx context.Context, orderID string) (payments.Payment, error)
	MarkRefunded(ctx context.Context, intentID, refundID string) (payments.Outcome, error)
}

type Refunder interface {
	Refund(ctx context.Context, intentID, idempotencyKey string) (string, error)
}

type Dedup interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type Invalidator interface {
	Invalidate(ctx context.Context, orderID string)
}

// Service consumes order events and performs the follow-up work that must
// not block a request: loyalty credit on delivery and card refunds.
type Service struct {
	Orders      OrderStore
	Payments    PaymentStore
	Gateway     Refunder
	Dedup       Dedup
	Status      Invalidator
	Events      orders.Publisher
	ServiceName string
}

// HandleEvent is installed as the consumer handler. A returned error makes
// the consumer retry the message.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		logx.From(ctx).Warn("undecodable event skipped", zap.Error(err))
		return nil
	}
	ctx = logx.WithTraceID(ctx, env.TraceID)
	log := logx.From(ctx).With(zap.String("event_id", env.EventID), zap.String("event_type", env.EventType))
	ctx = logx.WithLogger(ctx, log)

	dkey := redisx.Dedup(s.ServiceName, env.EventID)
	if s.Dedup != nil {
		if seen, _ := s.Dedup.Exists(ctx, dkey); seen {
			return nil
		}
	}

	var err error
	switch env.EventType {
	case orders.EventOrderStatusChanged:
		err = s.statusChanged(ctx, env)
	case orders.EventOrderCancelled:
		err = s.cancelled(ctx, env)
	case orders.EventPaymentSucceeded:
		err = s.paymentSucceeded(ctx, env)
	case orders.EventPaymentMismatched:
		err = s.paymentMismatched(ctx, env)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if s.Dedup != nil {
		if err := s.Dedup.Set(ctx, dkey, "1", redisx.TTLDedup); err != nil {
			log.Warn("dedup set", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) statusChanged(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
	if err != nil {
		logx.From(ctx).Warn("bad status payload", zap.Error(err))
		return nil
	}
	switch p.To {
	case orders.StatusDelivered:
		credited, err := s.Orders.CreditDeliveryPoints(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if credited {
			logx.From(ctx).Info("delivery points credited",
				zap.String("order_id", p.OrderID), zap.Int64("points", p.PointsEarned))
		}
		return nil
	case orders.StatusReturned:
		return s.refundIfCard(ctx, p.OrderID, p.PaymentMethod, p.PaymentStatus)
	}
	return nil
}

func (s *Service) cancelled(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
	if err != nil {
		logx.From(ctx).Warn("bad cancel payload", zap.Error(err))
		return nil
	}
	return s.refundIfCard(ctx, p.OrderID, p.PaymentMethod, p.PaymentStatus)
}

// paymentSucceeded covers a capture that lands after the order was already
// cancelled or returned.
func (s *Service) paymentSucceeded(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.PaymentPayload](env.Payload)
	if err != nil {
		logx.From(ctx).Warn("bad payment payload", zap.Error(err))
		return nil
	}
	o, err := s.Orders.Get(ctx, p.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if o.OrderStatus != orders.StatusCancelled && o.OrderStatus != orders.StatusReturned {
		return nil
	}
	return s.refund(ctx, o.ID)
}

// paymentMismatched returns a capture that did not pay its order. The order
// itself is untouched.
func (s *Service) paymentMismatched(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.PaymentPayload](env.Payload)
	if err != nil || p.IntentID == "" {
		logx.From(ctx).Warn("bad payment payload", zap.Error(err))
		return nil
	}
	return s.refundPayment(ctx, payments.Payment{OrderID: p.OrderID, IntentID: p.IntentID}, "refund:"+p.IntentID)
}

func (s *Service) refundIfCard(ctx context.Context, orderID string, method orders.PaymentMethod, status orders.PaymentStatus) error {
	if method != orders.MethodCard || status != orders.PaymentPaid {
		return nil
	}
	return s.refund(ctx, orderID)
}

func (s *Service) refund(ctx context.Context, orderID string) error {
	log := logx.From(ctx).With(zap.String("order_id", orderID))
	pay, err := s.Payments.SucceededForOrder(ctx, orderID)
	if errors.Is(err, payments.ErrNotFound) {
		log.Info("no captured payment to refund")
		return nil
	}
	if err != nil {
		return err
	}
	return s.refundPayment(ctx, pay, "refund:"+orderID)
}

func (s *Service) refundPayment(ctx context.Context, pay payments.Payment, key string) error {
	refundID, err := s.Gateway.Refund(ctx, pay.IntentID, key)
	if err != nil {
		return err
	}
	out, err := s.Payments.MarkRefunded(ctx, pay.IntentID, refundID)
	if err != nil {
		return err
	}
	if out.Duplicate {
		return nil
	}
	if out.OrderChanged && s.Status != nil {
		s.Status.Invalidate(ctx, pay.OrderID)
	}
	s.publishRefunded(ctx, out.Payment)
	logx.From(ctx).Info("payment refunded",
		zap.String("order_id", pay.OrderID),
		zap.String("intent_id", pay.IntentID),
		zap.String("refund_id", refundID),
	)
	return nil
}

func (s *Service) publishRefunded(ctx context.Context, p payments.Payment) {
	if s.Events == nil {
		return
	}
	env, err := orders.NewEnvelope(orders.EventPaymentRefunded, s.ServiceName, logx.TraceID(ctx), p.OrderID,
		orders.PaymentPayload{
			OrderID:  p.OrderID,
			UserID:   p.UserID,
			IntentID: p.IntentID,
			Amount:   p.Amount,
			Currency: p.Currency,
			Status:   string(p.Status),
		})
	if err != nil {
		logx.From(ctx).Error("build refund event", zap.Error(err))
		return
	}
	orders.Emit(s.Events, env)
}
