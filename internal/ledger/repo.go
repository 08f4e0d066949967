package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ApplyWallet moves the wallet balance and appends the log row inside tx.
// The balance never goes below zero.
func ApplyWallet(ctx context.Context, tx pgx.Tx, e WalletEntry) (WalletTx, error) {
	if !e.Amount.IsPositive() {
		return WalletTx{}, ErrInvalidAmount
	}
	if err := checkApplied(ctx, tx, "wallet_transactions", e.OrderID, e.Reason); err != nil {
		return WalletTx{}, err
	}

	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE users SET wallet_balance = wallet_balance + $2, updated_at = now()
		WHERE id = $1 AND wallet_balance + $2 >= 0
		RETURNING wallet_balance`, e.UserID, e.delta()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return WalletTx{}, missingOrShort(ctx, tx, e.UserID)
	}
	if err != nil {
		return WalletTx{}, err
	}

	out := WalletTx{
		ID: uuid.NewString(), UserID: e.UserID, Kind: e.Kind, Amount: e.Amount,
		BalanceAfter: balance, OrderID: e.OrderID, Reason: e.Reason,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions(id, user_id, kind, amount, balance_after, order_id, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		out.ID, out.UserID, out.Kind, out.Amount, out.BalanceAfter, nullable(out.OrderID), out.Reason,
	).Scan(&out.CreatedAt)
	if postgres.IsUniqueViolation(err) {
		return WalletTx{}, ErrDuplicateEntry
	}
	return out, err
}

func ApplyPoints(ctx context.Context, tx pgx.Tx, e PointsEntry) (PointsTx, error) {
	if e.Amount <= 0 {
		return PointsTx{}, ErrInvalidAmount
	}
	if err := checkApplied(ctx, tx, "points_transactions", e.OrderID, e.Reason); err != nil {
		return PointsTx{}, err
	}

	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE users SET points_balance = points_balance + $2, updated_at = now()
		WHERE id = $1 AND points_balance + $2 >= 0
		RETURNING points_balance`, e.UserID, e.delta()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return PointsTx{}, missingOrShort(ctx, tx, e.UserID)
	}
	if err != nil {
		return PointsTx{}, err
	}

	out := PointsTx{
		ID: uuid.NewString(), UserID: e.UserID, Kind: e.Kind, Amount: e.Amount,
		BalanceAfter: balance, OrderID: e.OrderID, Reason: e.Reason,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO points_transactions(id, user_id, kind, amount, balance_after, order_id, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		out.ID, out.UserID, out.Kind, out.Amount, out.BalanceAfter, nullable(out.OrderID), out.Reason,
	).Scan(&out.CreatedAt)
	if postgres.IsUniqueViolation(err) {
		return PointsTx{}, ErrDuplicateEntry
	}
	return out, err
}

// PointsBalance reads the balance with a row lock held until tx ends.
func PointsBalance(ctx context.Context, tx pgx.Tx, userID string) (int64, error) {
	var b int64
	err := tx.QueryRow(ctx, `SELECT points_balance FROM users WHERE id=$1 FOR UPDATE`, userID).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	return b, err
}

func checkApplied(ctx context.Context, tx pgx.Tx, table, orderID, reason string) error {
	if orderID == "" {
		return nil
	}
	var exists bool
	q := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE order_id=$1 AND reason=$2)`, table)
	if err := tx.QueryRow(ctx, q, orderID, reason).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrDuplicateEntry
	}
	return nil
}

func missingOrShort(ctx context.Context, tx pgx.Tx, userID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}
	return ErrInsufficientBalance
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Summary(ctx context.Context, userID string, limit int) (Summary, error) {
	s := Summary{UserID: userID}
	err := r.DB.QueryRow(ctx, `SELECT wallet_balance, points_balance FROM users WHERE id=$1`, userID).
		Scan(&s.Wallet.Balance, &s.Points.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, ErrUserNotFound
	}
	if err != nil {
		return Summary{}, err
	}
	if s.Wallet.Transactions, err = r.walletLog(ctx, userID, limit); err != nil {
		return Summary{}, err
	}
	if s.Points.Transactions, err = r.pointsLog(ctx, userID, limit); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// Reconcile replays the full logs against the stored balances.
func (r *Repo) Reconcile(ctx context.Context, userID string) (Drift, error) {
	d := Drift{UserID: userID}
	err := r.DB.QueryRow(ctx, `SELECT wallet_balance, points_balance FROM users WHERE id=$1`, userID).
		Scan(&d.WalletStored, &d.PointsStored)
	if errors.Is(err, pgx.ErrNoRows) {
		return Drift{}, ErrUserNotFound
	}
	if err != nil {
		return Drift{}, err
	}
	wl, err := r.walletLog(ctx, userID, 0)
	if err != nil {
		return Drift{}, err
	}
	pl, err := r.pointsLog(ctx, userID, 0)
	if err != nil {
		return Drift{}, err
	}
	d.WalletReplayed = ReplayWallet(wl)
	d.PointsReplayed = ReplayPoints(pl)
	return d, nil
}

func (r *Repo) CreditWallet(ctx context.Context, userID string, amount decimal.Decimal, reason string) (WalletTx, error) {
	var out WalletTx
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var err error
		out, err = ApplyWallet(ctx, tx, WalletEntry{UserID: userID, Kind: KindCredit, Amount: amount, Reason: reason})
		return err
	})
	return out, err
}

func (r *Repo) walletLog(ctx context.Context, userID string, limit int) ([]WalletTx, error) {
	q := `SELECT id::text, user_id::text, kind, amount, balance_after, COALESCE(order_id::text, ''), reason, created_at
	      FROM wallet_transactions WHERE user_id=$1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []WalletTx{}
	for rows.Next() {
		var t WalletTx
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &t.BalanceAfter, &t.OrderID, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repo) pointsLog(ctx context.Context, userID string, limit int) ([]PointsTx, error) {
	q := `SELECT id::text, user_id::text, kind, amount, balance_after, COALESCE(order_id::text, ''), reason, created_at
	      FROM points_transactions WHERE user_id=$1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []PointsTx{}
	for rows.Next() {
		var t PointsTx
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &t.BalanceAfter, &t.OrderID, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
