package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-checkout/internal/cart"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/ledger"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repo struct{ DB *pgxpool.Pool }

const orderCols = `id::text, user_id::text, COALESCE(idempotency_key, ''), shipping_address, billing_address,
	subtotal, discount, shipping, tax, total, payment_method, payment_status, order_status,
	tracking_number, points_earned, points_used, COALESCE(estimated_delivery, created_at), created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var ship, bill []byte
	err := row.Scan(&o.ID, &o.UserID, &o.IdempotencyKey, &ship, &bill,
		&o.Subtotal, &o.Discount, &o.Shipping, &o.Tax, &o.Total,
		&o.PaymentMethod, &o.PaymentStatus, &o.OrderStatus,
		&o.TrackingNumber, &o.PointsEarned, &o.PointsUsed, &o.EstimatedDelivery, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(ship, &o.ShippingAddress); err != nil {
		return Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(bill, &o.BillingAddress); err != nil {
		return Order{}, fmt.Errorf("decode billing address: %w", err)
	}
	return o, nil
}

// Create persists a placed order. Stock, points and the wallet move in the
// same transaction as the insert; purchased lines leave the cart.
func (r *Repo) Create(ctx context.Context, o *Order, purchased []cart.Key) error {
	return postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		if err := catalog.DecrementStock(ctx, tx, o.stockLines()); err != nil {
			return err
		}
		if o.PointsUsed > 0 {
			if _, err := ledger.ApplyPoints(ctx, tx, ledger.PointsEntry{
				UserID: o.UserID, Kind: ledger.KindDebit, Amount: o.PointsUsed,
				OrderID: o.ID, Reason: ledger.ReasonPointsRedeemed,
			}); err != nil {
				return err
			}
		}
		if o.PaymentMethod == MethodWallet && o.Total.IsPositive() {
			if _, err := ledger.ApplyWallet(ctx, tx, ledger.WalletEntry{
				UserID: o.UserID, Kind: ledger.KindDebit, Amount: o.Total,
				OrderID: o.ID, Reason: ledger.ReasonOrderPayment,
			}); err != nil {
				return err
			}
		}

		ship, err := json.Marshal(o.ShippingAddress)
		if err != nil {
			return err
		}
		bill, err := json.Marshal(o.BillingAddress)
		if err != nil {
			return err
		}
		var idem any
		if o.IdempotencyKey != "" {
			idem = o.IdempotencyKey
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO orders(id, user_id, idempotency_key, shipping_address, billing_address,
				subtotal, discount, shipping, tax, total, payment_method, payment_status, order_status,
				points_earned, points_used, estimated_delivery)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			RETURNING created_at, updated_at`,
			o.ID, o.UserID, idem, ship, bill,
			o.Subtotal, o.Discount, o.Shipping, o.Tax, o.Total,
			o.PaymentMethod, o.PaymentStatus, o.OrderStatus,
			o.PointsEarned, o.PointsUsed, o.EstimatedDelivery,
		).Scan(&o.CreatedAt, &o.UpdatedAt)
		if postgres.IsUniqueViolation(err) {
			return ErrDuplicateOrder
		}
		if err != nil {
			return err
		}

		for i := range o.Items {
			it := &o.Items[i]
			it.ID = uuid.NewString()
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items(id, order_id, product_id, name, size, color, quantity,
					unit_price, discounted_price, position)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
				it.ID, o.ID, it.Product.ID, it.Name, it.Size, it.Color, it.Quantity,
				it.Price, it.DiscountedPrice, i); err != nil {
				return err
			}
		}
		return cart.RemoveKeys(ctx, tx, o.UserID, purchased)
	})
}

func (r *Repo) FindByIdempotencyKey(ctx context.Context, userID, key string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE user_id=$1 AND idempotency_key=$2`, userID, key))
	if err != nil {
		return Order{}, err
	}
	return o, r.attachItems(ctx, r.DB, []*Order{&o})
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	return r.get(ctx, r.DB, id, "", false)
}

// GetForUser only returns orders owned by userID.
func (r *Repo) GetForUser(ctx context.Context, id, userID string) (Order, error) {
	return r.get(ctx, r.DB, id, userID, false)
}

func (r *Repo) get(ctx context.Context, q querier, id, userID string, lock bool) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, ErrNotFound
	}
	sql := `SELECT ` + orderCols + ` FROM orders WHERE id=$1 AND ($2 = '' OR user_id::text = $2)`
	if lock {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id, userID))
	if err != nil {
		return Order{}, err
	}
	return o, r.attachItems(ctx, q, []*Order{&o})
}

// ListByUser returns one page of the user's orders, newest first, and the total count.
func (r *Repo) ListByUser(ctx context.Context, userID string, page, limit int) ([]Order, int, error) {
	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderCols+` FROM orders WHERE user_id=$1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	ptrs := make([]*Order, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	return out, total, r.attachItems(ctx, r.DB, ptrs)
}

// attachItems loads lines joined with their current product title and images.
func (r *Repo) attachItems(ctx context.Context, q querier, list []*Order) error {
	if len(list) == 0 {
		return nil
	}
	byID := make(map[string]*Order, len(list))
	ids := make([]string, 0, len(list))
	for _, o := range list {
		o.Items = []LineItem{}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}
	rows, err := q.Query(ctx, `
		SELECT i.order_id::text, i.id::text, i.product_id::text, COALESCE(p.title, i.name), COALESCE(p.images, '{}'),
			i.name, i.size, i.color, i.quantity, i.unit_price, i.discounted_price
		FROM order_items i LEFT JOIN products p ON p.id = i.product_id
		WHERE i.order_id::text = ANY($1)
		ORDER BY i.order_id, i.position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var orderID string
		var it LineItem
		if err := rows.Scan(&orderID, &it.ID, &it.Product.ID, &it.Product.Title, &it.Product.Images,
			&it.Name, &it.Size, &it.Color, &it.Quantity, &it.Price, &it.DiscountedPrice); err != nil {
			return err
		}
		if o := byID[orderID]; o != nil {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func (r *Repo) Status(ctx context.Context, id string) (StatusView, error) {
	if _, err := uuid.Parse(id); err != nil {
		return StatusView{}, ErrNotFound
	}
	var v StatusView
	err := r.DB.QueryRow(ctx, `SELECT id::text, user_id::text, order_status, payment_status, updated_at FROM orders WHERE id=$1`, id).
		Scan(&v.OrderID, &v.UserID, &v.Status, &v.PaymentStatus, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StatusView{}, ErrNotFound
	}
	return v, err
}

// TransitionRequest moves an order to a new status. A non-empty UserID
// restricts the change to that user's order.
type TransitionRequest struct {
	OrderID        string
	UserID         string
	To             Status
	TrackingNumber string
}

// Transition applies a lifecycle change and its ledger and stock side effects
// in one transaction. It returns the order as it was before and after.
func (r *Repo) Transition(ctx context.Context, req TransitionRequest) (before, after Order, err error) {
	err = postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		o, err := r.get(ctx, tx, req.OrderID, req.UserID, true)
		if err != nil {
			return err
		}
		before = o
		if !CanTransition(o.OrderStatus, req.To) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.OrderStatus, req.To)
		}

		fx := planTransition(o, req.To)
		if err := r.applyEffects(ctx, tx, o, fx); err != nil {
			return err
		}

		tracking := o.TrackingNumber
		if req.To == StatusShipped && req.TrackingNumber != "" {
			tracking = req.TrackingNumber
		}
		var ct pgconn.CommandTag
		ct, err = tx.Exec(ctx, `
			UPDATE orders SET order_status=$3, payment_status=$4, tracking_number=$5, updated_at=now()
			WHERE id=$1 AND order_status=$2`,
			o.ID, o.OrderStatus, req.To, fx.paymentStatus, tracking)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return fmt.Errorf("%w: order changed concurrently", ErrInvalidTransition)
		}

		after, err = r.get(ctx, tx, o.ID, "", false)
		return err
	})
	return before, after, err
}

// effects lists what a transition does besides changing the status.
type effects struct {
	restoreStock  bool
	restorePoints bool
	walletRefund  bool
	clawback      bool
	paymentStatus PaymentStatus
}

func planTransition(o Order, to Status) effects {
	fx := effects{paymentStatus: o.PaymentStatus}
	switch to {
	case StatusCancelled:
		fx.restoreStock = true
		fx.restorePoints = o.PointsUsed > 0
		if o.PaymentMethod == MethodWallet && o.PaymentStatus == PaymentPaid {
			fx.walletRefund = true
			fx.paymentStatus = PaymentRefunded
		}
	case StatusReturned:
		fx.restoreStock = true
		fx.restorePoints = o.PointsUsed > 0
		fx.clawback = o.PointsEarned > 0
		if o.PaymentMethod != MethodCard && o.PaymentStatus == PaymentPaid {
			fx.walletRefund = true
			fx.paymentStatus = PaymentRefunded
		}
	case StatusDelivered:
		if o.PaymentMethod == MethodCOD {
			fx.paymentStatus = PaymentPaid
		}
	}
	return fx
}

func (r *Repo) applyEffects(ctx context.Context, tx pgx.Tx, o Order, fx effects) error {
	if fx.restoreStock {
		if err := catalog.RestoreStock(ctx, tx, o.stockLines()); err != nil {
			return err
		}
	}
	if fx.restorePoints {
		if _, err := ledger.ApplyPoints(ctx, tx, ledger.PointsEntry{
			UserID: o.UserID, Kind: ledger.KindCredit, Amount: o.PointsUsed,
			OrderID: o.ID, Reason: ledger.ReasonPointsRestored,
		}); err != nil && !errors.Is(err, ledger.ErrDuplicateEntry) {
			return err
		}
	}
	if fx.walletRefund && o.Total.IsPositive() {
		if _, err := ledger.ApplyWallet(ctx, tx, ledger.WalletEntry{
			UserID: o.UserID, Kind: ledger.KindCredit, Amount: o.Total,
			OrderID: o.ID, Reason: ledger.ReasonOrderRefund,
		}); err != nil && !errors.Is(err, ledger.ErrDuplicateEntry) {
			return err
		}
	}
	if fx.clawback {
		return clawbackPoints(ctx, tx, o)
	}
	return nil
}

// clawbackPoints removes delivery points that were credited for o, limited to
// what the user still holds.
func clawbackPoints(ctx context.Context, tx pgx.Tx, o Order) error {
	var credited int64
	err := tx.QueryRow(ctx, `SELECT amount FROM points_transactions WHERE order_id=$1 AND reason=$2`,
		o.ID, ledger.ReasonOrderDelivered).Scan(&credited)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	balance, err := ledger.PointsBalance(ctx, tx, o.UserID)
	if err != nil {
		return err
	}
	amount := min(credited, balance)
	if amount <= 0 {
		return nil
	}
	_, err = ledger.ApplyPoints(ctx, tx, ledger.PointsEntry{
		UserID: o.UserID, Kind: ledger.KindDebit, Amount: amount,
		OrderID: o.ID, Reason: ledger.ReasonPointsClawback,
	})
	if errors.Is(err, ledger.ErrDuplicateEntry) {
		return nil
	}
	return err
}

// CreditDeliveryPoints credits pointsEarned once the order is delivered.
// It reports false when the order is not delivered or was already credited.
func (r *Repo) CreditDeliveryPoints(ctx context.Context, orderID string) (bool, error) {
	credited := false
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		o, err := r.get(ctx, tx, orderID, "", true)
		if err != nil {
			return err
		}
		if o.OrderStatus != StatusDelivered || o.PointsEarned <= 0 {
			return nil
		}
		_, err = ledger.ApplyPoints(ctx, tx, ledger.PointsEntry{
			UserID: o.UserID, Kind: ledger.KindCredit, Amount: o.PointsEarned,
			OrderID: o.ID, Reason: ledger.ReasonOrderDelivered,
		})
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			return nil
		}
		credited = err == nil
		return err
	})
	return credited, err
}

// MarkPaid records a captured payment: paymentStatus becomes paid and a
// pending order is confirmed. changed is false when the order was already paid.
func MarkPaid(ctx context.Context, tx pgx.Tx, orderID string) (sv StatusView, changed bool, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE orders SET payment_status='paid',
			order_status = CASE WHEN order_status='pending' THEN 'confirmed' ELSE order_status END,
			updated_at = now()
		WHERE id=$1 AND payment_status <> 'paid'
		RETURNING id::text, user_id::text, order_status, payment_status, updated_at`, orderID).
		Scan(&sv.OrderID, &sv.UserID, &sv.Status, &sv.PaymentStatus, &sv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StatusView{}, false, nil
	}
	return sv, err == nil, err
}

// SetPaymentStatus moves paymentStatus from one value to another. It reports
// false when the order was not in the from state.
func SetPaymentStatus(ctx context.Context, tx pgx.Tx, orderID string, from, to PaymentStatus) (bool, error) {
	ct, err := tx.Exec(ctx, `UPDATE orders SET payment_status=$3, updated_at=now()
		WHERE id=$1 AND payment_status=$2`, orderID, from, to)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// Charge returns the owner and total of an order inside tx, locking the row
// so a concurrent transition waits for the payment to settle.
func Charge(ctx context.Context, tx pgx.Tx, orderID string) (userID string, total decimal.Decimal, err error) {
	err = tx.QueryRow(ctx, `SELECT user_id::text, total FROM orders WHERE id=$1 FOR UPDATE`, orderID).
		Scan(&userID, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", decimal.Zero, ErrNotFound
	}
	return userID, total, err
}
