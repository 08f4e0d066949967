package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/redisx"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"
)

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded  = "charge.refunded"
)

type Store interface {
	RecordSucceeded(ctx context.Context, eventID, eventType string, p Payment) (Outcome, error)
	RecordFailed(ctx context.Context, eventID, eventType string, p Payment) (Outcome, error)
	RecordRefunded(ctx context.Context, eventID, eventType, intentID, refundID string) (Outcome, error)
}

type DedupCache interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type StatusInvalidator interface {
	Invalidate(ctx context.Context, orderID string)
}

// Reconciler turns verified processor events into local payment state.
type Reconciler struct {
	Store    Store
	Dedup    DedupCache
	Status   StatusInvalidator
	Events   orders.Publisher
	Secret   string
	Producer string
	Now      func() time.Time
}

// Result is what the handler acknowledges.
type Result struct {
	EventID   string `json:"-"`
	Type      string `json:"-"`
	Duplicate bool   `json:"-"`
	Received  bool   `json:"received"`
}

// Verify checks the signature header against the raw body.
func (r *Reconciler) Verify(payload []byte, signature string) (stripe.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, r.Secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ev, nil
}

// Handle verifies and applies one delivery. Redelivered events are
// acknowledged without side effects.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	ev, err := r.Verify(payload, signature)
	if err != nil {
		return Result{}, err
	}
	res := Result{EventID: ev.ID, Type: string(ev.Type), Received: true}
	log := logx.From(ctx).With(zap.String("event_id", ev.ID), zap.String("event_type", res.Type))

	dkey := redisx.Dedup("webhook", ev.ID)
	if r.Dedup != nil {
		if seen, _ := r.Dedup.Exists(ctx, dkey); seen {
			res.Duplicate = true
			return res, nil
		}
	}

	var out Outcome
	switch res.Type {
	case EventIntentSucceeded:
		out, err = r.intent(ctx, ev, StatusSucceeded)
	case EventIntentFailed:
		out, err = r.intent(ctx, ev, StatusFailed)
	case EventChargeRefunded:
		out, err = r.refunded(ctx, ev)
	default:
		log.Debug("webhook event ignored")
		return res, nil
	}

	if errors.Is(err, errBadMetadata) || errors.Is(err, ErrUnknownOrder) {
		log.Warn("webhook event not reconciled", zap.Error(err))
		r.markSeen(ctx, dkey)
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	r.markSeen(ctx, dkey)

	res.Duplicate = out.Duplicate
	if out.Duplicate {
		log.Info("webhook event already reconciled")
		return res, nil
	}
	r.after(ctx, res.Type, out)
	if out.Mismatch {
		log.Warn("payment does not cover order total",
			zap.String("order_id", out.Payment.OrderID),
			zap.String("intent_id", out.Payment.IntentID),
			zap.Int64("amount", out.Payment.Amount),
			zap.String("currency", out.Payment.Currency),
		)
		return res, nil
	}
	log.Info("webhook event reconciled",
		zap.String("order_id", out.Payment.OrderID),
		zap.String("intent_id", out.Payment.IntentID),
		zap.String("payment_status", string(out.Payment.Status)),
	)
	return res, nil
}

var errBadMetadata = errors.New("intent metadata lacks valid userId and orderId")

func (r *Reconciler) intent(ctx context.Context, ev stripe.Event, status Status) (Outcome, error) {
	if ev.Data == nil {
		return Outcome{}, errBadMetadata
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return Outcome{}, fmt.Errorf("decode payment intent: %w", err)
	}
	userID, orderID := pi.Metadata["userId"], pi.Metadata["orderId"]
	if !isUUID(userID) || !isUUID(orderID) {
		return Outcome{}, errBadMetadata
	}

	p := Payment{
		OrderID:  orderID,
		UserID:   userID,
		IntentID: pi.ID,
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
		Status:   status,
	}
	if status == StatusFailed {
		return r.Store.RecordFailed(ctx, ev.ID, string(ev.Type), p)
	}
	paidAt := r.now()
	p.PaidAt = &paidAt
	return r.Store.RecordSucceeded(ctx, ev.ID, string(ev.Type), p)
}

func (r *Reconciler) refunded(ctx context.Context, ev stripe.Event) (Outcome, error) {
	if ev.Data == nil {
		return Outcome{}, errBadMetadata
	}
	var ch stripe.Charge
	if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
		return Outcome{}, fmt.Errorf("decode charge: %w", err)
	}
	if ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
		return Outcome{}, errBadMetadata
	}
	refundID := ""
	if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
		refundID = ch.Refunds.Data[0].ID
	}
	return r.Store.RecordRefunded(ctx, ev.ID, string(ev.Type), ch.PaymentIntent.ID, refundID)
}

func (r *Reconciler) after(ctx context.Context, eventType string, out Outcome) {
	if out.OrderChanged && r.Status != nil {
		r.Status.Invalidate(ctx, out.Payment.OrderID)
	}
	if r.Events == nil {
		return
	}
	name := map[string]string{
		EventIntentSucceeded: orders.EventPaymentSucceeded,
		EventIntentFailed:    orders.EventPaymentFailed,
		EventChargeRefunded:  orders.EventPaymentRefunded,
	}[eventType]
	if out.Mismatch {
		name = orders.EventPaymentMismatched
	}
	env, err := orders.NewEnvelope(name, r.Producer, logx.TraceID(ctx), out.Payment.OrderID, orders.PaymentPayload{
		OrderID:  out.Payment.OrderID,
		UserID:   out.Payment.UserID,
		IntentID: out.Payment.IntentID,
		Amount:   out.Payment.Amount,
		Currency: out.Payment.Currency,
		Status:   string(out.Payment.Status),
	})
	if err != nil {
		logx.From(ctx).Error("build payment event", zap.Error(err))
		return
	}
	orders.Emit(r.Events, env)
}

func (r *Reconciler) markSeen(ctx context.Context, key string) {
	if r.Dedup == nil {
		return
	}
	if err := r.Dedup.Set(ctx, key, "1", redisx.TTLDedup); err != nil {
		logx.From(ctx).Warn("webhook dedup set", zap.Error(err))
	}
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
