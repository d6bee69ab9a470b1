package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/petmerch/api/internal/model"
)

var (
	// FreeShippingThreshold is the subtotal that must be exceeded for free shipping
	FreeShippingThreshold = decimal.RequireFromString("50.00")
	// FlatShippingRate applies at or below the threshold
	FlatShippingRate = decimal.RequireFromString("7.99")
	// TaxRate is applied to the subtotal only
	TaxRate = decimal.RequireFromString("0.08")
)

// OrderTotals are the derived amounts of a cart, kept at full precision
type OrderTotals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals prices a cart. It is pure and never rounds.
func ComputeTotals(items []model.CheckoutItem) OrderTotals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}

	shipping := FlatShippingRate
	if subtotal.GreaterThan(FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	tax := subtotal.Mul(TaxRate)

	return OrderTotals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax),
	}
}

// FreeShipping reports whether the order ships free
func (t OrderTotals) FreeShipping() bool {
	return t.Shipping.IsZero()
}

// View rounds the totals to cents for display
func (t OrderTotals) View() model.OrderTotalsView {
	return model.OrderTotalsView{
		Subtotal:     t.Subtotal.StringFixed(2),
		Shipping:     t.Shipping.StringFixed(2),
		Tax:          t.Tax.StringFixed(2),
		Total:        t.Total.StringFixed(2),
		FreeShipping: t.FreeShipping(),
	}
}

// AmountCents is the total rounded half-up to whole cents
func (t OrderTotals) AmountCents() int64 {
	return t.Total.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
