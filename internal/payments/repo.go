package payments

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo stores payments. Currency is the store currency order totals are
// charged in.
type Repo struct {
	DB       *pgxpool.Pool
	Currency string
}

// Outcome describes what a reconciliation changed. Duplicate means the event
// or payment was already recorded and nothing was written. Mismatch means the
// capture was stored but did not pay the order.
type Outcome struct {
	Duplicate    bool
	Mismatch     bool
	Payment      Payment
	OrderChanged bool
}

const paymentCols = `id::text, order_id::text, user_id::text, intent_id, amount, currency, status,
	matched, paid_at, refund_id, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.UserID, &p.IntentID, &p.Amount, &p.Currency, &p.Status,
		&p.Matched, &p.PaidAt, &p.RefundID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func claimEvent(ctx context.Context, tx pgx.Tx, eventID, eventType string) (bool, error) {
	ct, err := tx.Exec(ctx, `INSERT INTO processed_webhook_events(event_id, type) VALUES ($1,$2)
		ON CONFLICT (event_id) DO NOTHING`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// chargeFor returns the total of the order a payment claims to pay.
func chargeFor(ctx context.Context, tx pgx.Tx, orderID, userID string) (decimal.Decimal, error) {
	owner, total, err := orders.Charge(ctx, tx, orderID)
	if errors.Is(err, orders.ErrNotFound) || (err == nil && owner != userID) {
		return decimal.Zero, ErrUnknownOrder
	}
	return total, err
}

func checkOwner(ctx context.Context, tx pgx.Tx, orderID, userID string) error {
	_, err := chargeFor(ctx, tx, orderID, userID)
	return err
}

// RecordSucceeded stores a captured payment once per intent and marks the
// order paid when the capture covers the order total in the store currency.
func (r *Repo) RecordSucceeded(ctx context.Context, eventID, eventType string, p Payment) (Outcome, error) {
	var out Outcome
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		claimed, err := claimEvent(ctx, tx, eventID, eventType)
		if err != nil {
			return err
		}
		if !claimed {
			out.Duplicate = true
			return nil
		}
		total, err := chargeFor(ctx, tx, p.OrderID, p.UserID)
		if err != nil {
			return err
		}
		matched := Covers(p, total, r.Currency)

		stored, err := scanPayment(tx.QueryRow(ctx, `
			INSERT INTO payments(id, order_id, user_id, intent_id, amount, currency, status, matched, paid_at)
			VALUES ($1,$2,$3,$4,$5,$6,'succeeded',$7,$8)
			ON CONFLICT (intent_id) DO UPDATE
				SET status='succeeded', amount=EXCLUDED.amount, currency=EXCLUDED.currency,
					matched=EXCLUDED.matched, paid_at=EXCLUDED.paid_at, updated_at=now()
				WHERE payments.status IN ('pending','failed')
			RETURNING `+paymentCols,
			uuid.NewString(), p.OrderID, p.UserID, p.IntentID, p.Amount, p.Currency, matched, p.PaidAt))
		if errors.Is(err, pgx.ErrNoRows) {
			out.Duplicate = true
			return nil
		}
		if err != nil {
			return err
		}
		out.Payment = stored
		if !stored.Matched {
			out.Mismatch = true
			return nil
		}

		_, out.OrderChanged, err = orders.MarkPaid(ctx, tx, p.OrderID)
		return err
	})
	return out, err
}

// RecordFailed stores a failed attempt. A payment that already succeeded is
// left alone.
func (r *Repo) RecordFailed(ctx context.Context, eventID, eventType string, p Payment) (Outcome, error) {
	var out Outcome
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		claimed, err := claimEvent(ctx, tx, eventID, eventType)
		if err != nil {
			return err
		}
		if !claimed {
			out.Duplicate = true
			return nil
		}
		if err := checkOwner(ctx, tx, p.OrderID, p.UserID); err != nil {
			return err
		}

		stored, err := scanPayment(tx.QueryRow(ctx, `
			INSERT INTO payments(id, order_id, user_id, intent_id, amount, currency, status)
			VALUES ($1,$2,$3,$4,$5,$6,'failed')
			ON CONFLICT (intent_id) DO UPDATE SET status='failed', updated_at=now()
				WHERE payments.status = 'pending'
			RETURNING `+paymentCols,
			uuid.NewString(), p.OrderID, p.UserID, p.IntentID, p.Amount, p.Currency))
		if errors.Is(err, pgx.ErrNoRows) {
			out.Duplicate = true
			return nil
		}
		if err != nil {
			return err
		}
		out.Payment = stored

		out.OrderChanged, err = orders.SetPaymentStatus(ctx, tx, p.OrderID, orders.PaymentPending, orders.PaymentFailed)
		return err
	})
	return out, err
}

func (r *Repo) RecordRefunded(ctx context.Context, eventID, eventType, intentID, refundID string) (Outcome, error) {
	var out Outcome
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		claimed, err := claimEvent(ctx, tx, eventID, eventType)
		if err != nil {
			return err
		}
		if !claimed {
			out.Duplicate = true
			return nil
		}
		out, err = markRefunded(ctx, tx, intentID, refundID)
		return err
	})
	return out, err
}

// MarkRefunded records a refund issued by this service.
func (r *Repo) MarkRefunded(ctx context.Context, intentID, refundID string) (Outcome, error) {
	var out Outcome
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var err error
		out, err = markRefunded(ctx, tx, intentID, refundID)
		return err
	})
	return out, err
}

// markRefunded flips the order only when the refunded payment is the one
// that paid it.
func markRefunded(ctx context.Context, tx pgx.Tx, intentID, refundID string) (Outcome, error) {
	p, err := scanPayment(tx.QueryRow(ctx, `
		UPDATE payments SET status='refunded', refund_id=$2, updated_at=now()
		WHERE intent_id=$1 AND status='succeeded'
		RETURNING `+paymentCols, intentID, refundID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Outcome{Duplicate: true}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if !p.Matched {
		return Outcome{Payment: p}, nil
	}
	changed, err := orders.SetPaymentStatus(ctx, tx, p.OrderID, orders.PaymentPaid, orders.PaymentRefunded)
	return Outcome{Payment: p, OrderChanged: changed}, err
}

// SucceededForOrder returns the captured payment of an order.
func (r *Repo) SucceededForOrder(ctx context.Context, orderID string) (Payment, error) {
	p, err := scanPayment(r.DB.QueryRow(ctx, `SELECT `+paymentCols+` FROM payments
		WHERE order_id=$1 AND status='succeeded' AND matched ORDER BY paid_at DESC NULLS LAST LIMIT 1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return p, err
}
