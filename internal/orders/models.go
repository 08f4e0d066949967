package orders

import (
	"errors"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrDuplicateOrder    = errors.New("order already placed for idempotency key")
	ErrUnknownProduct    = errors.New("unknown product")
	ErrTotalMismatch     = errors.New("total mismatch")
	ErrEmptyOrder        = errors.New("order has no items")
	ErrInvalidMethod     = errors.New("invalid payment method")
	ErrInvalidStatus     = errors.New("invalid order status")
)

type Address struct {
	Name       string `json:"name" validate:"required,max=120"`
	Phone      string `json:"phone" validate:"required,max=32"`
	Street     string `json:"street" validate:"required,max=255"`
	City       string `json:"city" validate:"required,max=120"`
	State      string `json:"state" validate:"required,max=120"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,max=80"`
}

// Totals is the monetary breakdown of an order.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// LineItem is one purchased variant with prices frozen at placement.
type LineItem struct {
	ID              string          `json:"id"`
	Product         catalog.Ref     `json:"product"`
	Name            string          `json:"name"`
	Size            string          `json:"size"`
	Color           string          `json:"color"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	DiscountedPrice decimal.Decimal `json:"discountedPrice"`
}

type Order struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Items           []LineItem `json:"items"`
	ShippingAddress Address    `json:"shippingAddress"`
	BillingAddress  Address    `json:"billingAddress"`
	Totals
	PaymentMethod     PaymentMethod `json:"paymentMethod"`
	PaymentStatus     PaymentStatus `json:"paymentStatus"`
	OrderStatus       Status        `json:"orderStatus"`
	TrackingNumber    string        `json:"trackingNumber,omitempty"`
	PointsEarned      int64         `json:"pointsEarned"`
	PointsUsed        int64         `json:"pointsUsed"`
	EstimatedDelivery time.Time     `json:"estimatedDelivery"`
	IdempotencyKey    string        `json:"-"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

func (o Order) stockLines() []catalog.StockLine {
	out := make([]catalog.StockLine, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, catalog.StockLine{ProductID: it.Product.ID, Size: it.Size, Qty: it.Quantity})
	}
	return out
}

// Page is one page of a user's order history.
type Page struct {
	Orders      []Order `json:"orders"`
	CurrentPage int     `json:"currentPage"`
	TotalPages  int     `json:"totalPages"`
	HasMore     bool    `json:"hasMore"`
}

type StatusView struct {
	OrderID       string        `json:"orderId"`
	UserID        string        `json:"-"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}
