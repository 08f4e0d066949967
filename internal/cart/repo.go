package cart

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Load(ctx context.Context, userID string) (*Cart, error) {
	rows, err := r.DB.Query(ctx, `SELECT product_id::text, size, color, quantity, added_at
		FROM cart_items WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	c := New(userID)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Size, &it.Color, &it.Quantity, &it.AddedAt); err != nil {
			return nil, err
		}
		c.Items[it.Key()] = it
	}
	return c, rows.Err()
}

func (r *Repo) Upsert(ctx context.Context, userID string, it Item) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO cart_items(user_id, product_id, size, color, quantity, added_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (user_id, product_id, size, color) DO UPDATE SET quantity = EXCLUDED.quantity`,
		userID, it.ProductID, it.Size, it.Color, it.Quantity, it.AddedAt)
	return err
}

func (r *Repo) Delete(ctx context.Context, userID string, k Key) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1 AND product_id=$2 AND size=$3 AND color=$4`,
		userID, k.ProductID, k.Size, k.Color)
	return err
}

// RemoveKeys drops purchased lines as part of the caller's transaction.
func RemoveKeys(ctx context.Context, tx pgx.Tx, userID string, keys []Key) error {
	for _, k := range keys {
		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1 AND product_id::text=$2 AND size=$3 AND color=$4`,
			userID, k.ProductID, k.Size, k.Color); err != nil {
			return err
		}
	}
	return nil
}
