package orders

import (
	"fmt"

	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/config"
	"github.com/shopspring/decimal"
)

// Line is a requested purchase of one product variant.
type Line struct {
	ProductID string
	Size      string
	Color     string
	Quantity  int
}

// Quote is the server-side pricing of a set of lines.
type Quote struct {
	Totals
	PointsValue  decimal.Decimal `json:"pointsValue"`
	PointsUsed   int64           `json:"pointsUsed"`
	PointsEarned int64           `json:"pointsEarned"`
	Items        []LineItem      `json:"-"`
}

// Price computes totals from catalog prices. Points redeem at PointValue each
// and never take the total below zero; only the points needed are used.
func Price(p config.Pricing, products map[string]catalog.Product, lines []Line, pointsUsed int64) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, ErrEmptyOrder
	}
	q := Quote{Items: make([]LineItem, 0, len(lines))}
	subtotal, discount := decimal.Zero, decimal.Zero

	for _, l := range lines {
		prod, ok := products[l.ProductID]
		if !ok {
			return Quote{}, fmt.Errorf("%w: %s", ErrUnknownProduct, l.ProductID)
		}
		if !prod.HasSize(l.Size) {
			return Quote{}, fmt.Errorf("%w: %s/%q", catalog.ErrUnknownSize, l.ProductID, l.Size)
		}
		qty := decimal.NewFromInt(int64(l.Quantity))
		discounted := prod.DiscountedPrice()
		subtotal = subtotal.Add(prod.Price.Mul(qty))
		discount = discount.Add(prod.Price.Sub(discounted).Mul(qty))

		q.Items = append(q.Items, LineItem{
			Product:         prod.Ref(),
			Name:            prod.Title,
			Size:            l.Size,
			Color:           l.Color,
			Quantity:        l.Quantity,
			Price:           prod.Price,
			DiscountedPrice: discounted,
		})
	}

	net := subtotal.Sub(discount)
	shipping := p.ShippingFee
	if net.GreaterThanOrEqual(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	tax := net.Mul(p.TaxRate).Round(2)
	preTotal := net.Add(shipping).Add(tax)

	if pointsUsed > 0 && p.PointValue.IsPositive() {
		needed := preTotal.Div(p.PointValue).Ceil().IntPart()
		q.PointsUsed = min(pointsUsed, needed)
		q.PointsValue = decimal.Min(decimal.NewFromInt(q.PointsUsed).Mul(p.PointValue), preTotal)
	}

	q.Subtotal = subtotal.Round(2)
	q.Discount = discount.Round(2)
	q.Shipping = shipping.Round(2)
	q.Tax = tax
	q.Total = preTotal.Sub(q.PointsValue).Round(2)
	q.PointsEarned = q.Total.Mul(p.PointsPerUnit).Floor().IntPart()
	return q, nil
}

// MismatchError reports a client total the server did not agree with.
type MismatchError struct {
	Client decimal.Decimal
	Server Quote
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("total mismatch: client %s server %s", e.Client, e.Server.Total)
}

func (e *MismatchError) Is(target error) bool { return target == ErrTotalMismatch }

// CheckTotal accepts a client total within tolerance of the quote.
func CheckTotal(client decimal.Decimal, q Quote, tolerance decimal.Decimal) error {
	if client.Sub(q.Total).Abs().GreaterThan(tolerance) {
		return &MismatchError{Client: client, Server: q}
	}
	return nil
}
