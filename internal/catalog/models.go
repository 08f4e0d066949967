package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnknownSize       = errors.New("unknown size")
)

var hundred = decimal.NewFromInt(100)

type Product struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Stock           map[string]int  `json:"stock"` // size -> quantity
	Images          []string        `json:"images"`
	Categories      []string        `json:"categories"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// DiscountedPrice is the unit price after the product discount, rounded half-up to 2 dp.
func (p Product) DiscountedPrice() decimal.Decimal {
	return p.Price.Mul(hundred.Sub(p.DiscountPercent)).Div(hundred).Round(2)
}

func (p Product) HasSize(size string) bool {
	_, ok := p.Stock[size]
	return ok
}

// Ref is the joined product reference returned alongside order lines.
type Ref struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Images []string `json:"images"`
}

func (p Product) Ref() Ref {
	return Ref{ID: p.ID, Title: p.Title, Images: p.Images}
}

type StockLine struct {
	ProductID string
	Size      string
	Qty       int
}

// ShortLine describes one line that could not be covered by stock.
type ShortLine struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type StockError struct {
	Lines []ShortLine
}

func (e *StockError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		parts = append(parts, fmt.Sprintf("%s/%s need %d have %d", l.ProductID, l.Size, l.Required, l.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *StockError) Is(target error) bool { return target == ErrInsufficientStock }

// MergeLines folds lines with the same product and size and orders them by
// key, so row locks are always taken in the same order.
func MergeLines(lines []StockLine) []StockLine {
	type key struct{ pid, size string }
	sum := map[key]int{}
	for _, l := range lines {
		sum[key{l.ProductID, l.Size}] += l.Qty
	}
	out := make([]StockLine, 0, len(sum))
	for k, q := range sum {
		out = append(out, StockLine{ProductID: k.pid, Size: k.size, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Size < out[j].Size
	})
	return out
}
