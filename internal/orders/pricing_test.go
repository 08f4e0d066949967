package orders

import (
	"errors"
	"testing"

	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testPricing() config.Pricing {
	return config.Pricing{
		Currency:              "inr",
		TaxRate:               d("0.18"),
		ShippingFee:           d("50"),
		FreeShippingThreshold: d("499"),
		PointValue:            d("1"),
		PointsPerUnit:         d("0.01"),
		TotalTolerance:        d("0.01"),
		DeliveryDays:          5,
	}
}

func product(id, price, pct string, sizes ...string) catalog.Product {
	stock := map[string]int{}
	for _, s := range sizes {
		stock[s] = 10
	}
	return catalog.Product{ID: id, Title: "Product " + id, Price: d(price), DiscountPercent: d(pct), Stock: stock}
}

func TestPriceTwoUnitsAtFiveHundred(t *testing.T) {
	products := map[string]catalog.Product{"p1": product("p1", "500", "0", "M")}
	q, err := Price(testPricing(), products, []Line{{ProductID: "p1", Size: "M", Quantity: 2}}, 0)
	require.NoError(t, err)

	assert.True(t, q.Subtotal.Equal(d("1000")))
	assert.True(t, q.Discount.IsZero())
	assert.True(t, q.Shipping.IsZero())
	assert.True(t, q.Tax.Equal(d("180")))
	assert.True(t, q.Total.Equal(d("1180")), "total %s", q.Total)
	assert.Equal(t, int64(11), q.PointsEarned)
	require.Len(t, q.Items, 1)
	assert.Equal(t, "Product p1", q.Items[0].Name)
	assert.Equal(t, "p1", q.Items[0].Product.ID)
}

func TestPriceDiscountAndShippingFee(t *testing.T) {
	products := map[string]catalog.Product{"p1": product("p1", "200", "10", "")}
	q, err := Price(testPricing(), products, []Line{{ProductID: "p1", Quantity: 2}}, 0)
	require.NoError(t, err)

	// net 360 is under the free shipping threshold
	assert.True(t, q.Subtotal.Equal(d("400")))
	assert.True(t, q.Discount.Equal(d("40")))
	assert.True(t, q.Shipping.Equal(d("50")))
	assert.True(t, q.Tax.Equal(d("64.8")))
	assert.True(t, q.Total.Equal(d("474.8")), "total %s", q.Total)
}

func TestPriceRedeemsPoints(t *testing.T) {
	products := map[string]catalog.Product{"p1": product("p1", "500", "0", "M")}
	lines := []Line{{ProductID: "p1", Size: "M", Quantity: 2}}

	q, err := Price(testPricing(), products, lines, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), q.PointsUsed)
	assert.True(t, q.PointsValue.Equal(d("100")))
	assert.True(t, q.Total.Equal(d("1080")))

	q, err = Price(testPricing(), products, lines, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(1180), q.PointsUsed)
	assert.True(t, q.Total.IsZero())
	assert.Equal(t, int64(0), q.PointsEarned)
}

func TestPriceRejectsUnknownProductAndSize(t *testing.T) {
	products := map[string]catalog.Product{"p1": product("p1", "500", "0", "M")}

	_, err := Price(testPricing(), products, []Line{{ProductID: "nope", Quantity: 1}}, 0)
	assert.ErrorIs(t, err, ErrUnknownProduct)

	_, err = Price(testPricing(), products, []Line{{ProductID: "p1", Size: "XXL", Quantity: 1}}, 0)
	assert.ErrorIs(t, err, catalog.ErrUnknownSize)

	_, err = Price(testPricing(), products, nil, 0)
	assert.ErrorIs(t, err, ErrEmptyOrder)
}

func TestCheckTotal(t *testing.T) {
	q := Quote{Totals: Totals{Total: d("1180")}}
	tol := d("0.01")

	assert.NoError(t, CheckTotal(d("1180"), q, tol))
	assert.NoError(t, CheckTotal(d("1180.01"), q, tol))

	err := CheckTotal(d("1"), q, tol)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTotalMismatch)
	var me *MismatchError
	require.True(t, errors.As(err, &me))
	assert.True(t, me.Server.Total.Equal(d("1180")))
}
