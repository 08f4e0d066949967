// Package pgtest gives repository tests a migrated database. Tests using it
// are skipped unless TEST_POSTGRES_DSN is set. Every fixture gets fresh ids,
// so runs can share one database.
package pgtest

import (
	"context"
	"os"
	"testing"

	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const EnvDSN = "TEST_POSTGRES_DSN"

// Pool migrates the database named by TEST_POSTGRES_DSN and connects to it.
func Pool(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvDSN)
	}
	require.NoError(t, postgres.Migrate(dsn))
	db, err := postgres.Connect(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

// User inserts a user holding the given wallet and points balances.
func User(t testing.TB, db *pgxpool.Pool, wallet string, points int64) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(context.Background(), `
		INSERT INTO users(id, email, name, password_hash, wallet_balance, points_balance)
		VALUES ($1,$2,'Test','x',$3,$4)`,
		id, id+"@example.com", decimal.RequireFromString(wallet), points)
	require.NoError(t, err)
	return id
}

// Product inserts a product with per-size stock.
func Product(t testing.TB, db *pgxpool.Pool, price string, stock map[string]int) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	_, err := db.Exec(ctx, `INSERT INTO products(id, title, price) VALUES ($1,'Tee',$2)`,
		id, decimal.RequireFromString(price))
	require.NoError(t, err)
	for size, qty := range stock {
		_, err := db.Exec(ctx, `INSERT INTO product_stock(product_id, size, quantity) VALUES ($1,$2,$3)`, id, size, qty)
		require.NoError(t, err)
	}
	return id
}

// Order inserts a bare order row without items.
func Order(t testing.TB, db *pgxpool.Pool, userID, total, method, status string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(context.Background(), `
		INSERT INTO orders(id, user_id, shipping_address, billing_address, subtotal, discount, shipping, tax,
			total, payment_method, payment_status, order_status)
		VALUES ($1,$2,'{}','{}',$3,0,0,0,$3,$4,'pending',$5)`,
		id, userID, decimal.RequireFromString(total), method, status)
	require.NoError(t, err)
	return id
}

func Stock(t testing.TB, db *pgxpool.Pool, productID, size string) int {
	t.Helper()
	var q int
	require.NoError(t, db.QueryRow(context.Background(),
		`SELECT quantity FROM product_stock WHERE product_id=$1 AND size=$2`, productID, size).Scan(&q))
	return q
}

// Balances returns the stored wallet and points balances.
func Balances(t testing.TB, db *pgxpool.Pool, userID string) (decimal.Decimal, int64) {
	t.Helper()
	var w decimal.Decimal
	var p int64
	require.NoError(t, db.QueryRow(context.Background(),
		`SELECT wallet_balance, points_balance FROM users WHERE id=$1`, userID).Scan(&w, &p))
	return w, p
}

// Count runs a SELECT COUNT(*) style query.
func Count(t testing.TB, db *pgxpool.Pool, sql string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(context.Background(), sql, args...).Scan(&n))
	return n
}
