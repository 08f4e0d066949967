package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

const productCols = `id::text, title, price, discount_percent, images, categories, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Title, &p.Price, &p.DiscountPercent, &p.Images, &p.Categories, &p.CreatedAt, &p.UpdatedAt)
	p.Stock = map[string]int{}
	return p, err
}

func (r *Repo) Get(ctx context.Context, id string) (Product, error) {
	ps, err := r.GetMany(ctx, []string{id})
	if err != nil {
		return Product{}, err
	}
	p, ok := ps[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

// GetMany returns the products found, keyed by id. Missing ids are simply absent.
func (r *Repo) GetMany(ctx context.Context, ids []string) (map[string]Product, error) {
	out := map[string]Product{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.DB.Query(ctx, `SELECT `+productCols+` FROM products WHERE id::text = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, r.attachStock(ctx, out)
}

func (r *Repo) List(ctx context.Context, page, limit int, category string) ([]Product, int, error) {
	var total int
	if err := r.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM products WHERE $1 = '' OR $1 = ANY(categories)`, category).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.DB.Query(ctx, `SELECT `+productCols+` FROM products
		WHERE $1 = '' OR $1 = ANY(categories)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, category, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []Product
	byID := map[string]Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.attachStock(ctx, byID); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// attachStock fills Stock in place; maps are shared between copies of a Product.
func (r *Repo) attachStock(ctx context.Context, ps map[string]Product) error {
	if len(ps) == 0 {
		return nil
	}
	ids := make([]string, 0, len(ps))
	for id := range ps {
		ids = append(ids, id)
	}
	rows, err := r.DB.Query(ctx, `SELECT product_id::text, size, quantity FROM product_stock WHERE product_id::text = ANY($1)`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var pid, size string
		var qty int
		if err := rows.Scan(&pid, &size, &qty); err != nil {
			return err
		}
		ps[pid].Stock[size] = qty
	}
	return rows.Err()
}

// DecrementStock locks every (product, size) row and takes the quantities.
// If any line is short nothing is taken and a *StockError lists every short line.
func DecrementStock(ctx context.Context, tx pgx.Tx, lines []StockLine) error {
	merged := MergeLines(lines)
	var short []ShortLine

	for _, l := range merged {
		var stock int
		err := tx.QueryRow(ctx,
			`SELECT quantity FROM product_stock WHERE product_id=$1 AND size=$2 FOR UPDATE`,
			l.ProductID, l.Size).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			short = append(short, ShortLine{ProductID: l.ProductID, Size: l.Size, Required: l.Qty})
			continue
		}
		if err != nil {
			return err
		}
		if stock < l.Qty {
			short = append(short, ShortLine{ProductID: l.ProductID, Size: l.Size, Required: l.Qty, Available: stock})
		}
	}
	if len(short) > 0 {
		return &StockError{Lines: short}
	}

	for _, l := range merged {
		ct, err := tx.Exec(ctx,
			`UPDATE product_stock SET quantity = quantity - $3 WHERE product_id=$1 AND size=$2 AND quantity >= $3`,
			l.ProductID, l.Size, l.Qty)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return &StockError{Lines: []ShortLine{{ProductID: l.ProductID, Size: l.Size, Required: l.Qty}}}
		}
	}
	return nil
}

func RestoreStock(ctx context.Context, tx pgx.Tx, lines []StockLine) error {
	for _, l := range MergeLines(lines) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO product_stock(product_id, size, quantity) VALUES ($1,$2,$3)
			ON CONFLICT (product_id, size) DO UPDATE SET quantity = product_stock.quantity + EXCLUDED.quantity`,
			l.ProductID, l.Size, l.Qty); err != nil {
			return err
		}
	}
	return nil
}
