package checkout

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/petmerch/api/internal/model"
)

func item(price string, qty int) model.CheckoutItem {
	return model.CheckoutItem{Price: decimal.RequireFromString(price), Quantity: qty}
}

func TestComputeTotals_SingleTee(t *testing.T) {
	totals := ComputeTotals([]model.CheckoutItem{item("25.99", 1)})

	assert.True(t, totals.Subtotal.Equal(decimal.RequireFromString("25.99")))
	assert.True(t, totals.Shipping.Equal(decimal.RequireFromString("7.99")))
	assert.True(t, totals.Tax.Equal(decimal.RequireFromString("2.0792")))
	assert.True(t, totals.Total.Equal(decimal.RequireFromString("36.0592")))
	assert.Equal(t, "36.06", totals.View().Total)
	assert.False(t, totals.FreeShipping())
}

func TestComputeTotals_FreeShipping(t *testing.T) {
	totals := ComputeTotals([]model.CheckoutItem{item("25.99", 1), item("15.99", 2)})

	assert.True(t, totals.Subtotal.Equal(decimal.RequireFromString("57.97")))
	assert.True(t, totals.Shipping.IsZero())
	assert.True(t, totals.Tax.Equal(decimal.RequireFromString("4.6376")))
	assert.True(t, totals.Total.Equal(decimal.RequireFromString("62.6076")))

	view := totals.View()
	assert.Equal(t, "57.97", view.Subtotal)
	assert.Equal(t, "0.00", view.Shipping)
	assert.Equal(t, "4.64", view.Tax)
	assert.Equal(t, "62.61", view.Total)
	assert.True(t, view.FreeShipping)
}

func TestComputeTotals_ThresholdIsExclusive(t *testing.T) {
	totals := ComputeTotals([]model.CheckoutItem{item("25.00", 2)})

	assert.True(t, totals.Subtotal.Equal(decimal.RequireFromString("50.00")))
	assert.True(t, totals.Shipping.Equal(FlatShippingRate))
}

func TestComputeTotals_Empty(t *testing.T) {
	totals := ComputeTotals(nil)

	assert.True(t, totals.Subtotal.IsZero())
	assert.True(t, totals.Shipping.Equal(FlatShippingRate))
	assert.True(t, totals.Total.Equal(FlatShippingRate))
}

func TestOrderTotals_AmountCents(t *testing.T) {
	totals := ComputeTotals([]model.CheckoutItem{item("25.99", 1)})
	assert.Equal(t, int64(3606), totals.AmountCents())
}
