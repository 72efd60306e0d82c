package domain

import "github.com/shopspring/decimal"

// PricingPolicy configures tax and shipping for new orders.
type PricingPolicy struct {
	TaxRate               decimal.Decimal
	ShippingFee           Money
	FreeShippingThreshold Money
}

// Price computes the breakdown for a set of line items. Tax is rounded to
// two decimal places. Shipping is waived once the item total reaches a
// positive free-shipping threshold.
func (p PricingPolicy) Price(items []LineItem) PriceBreakdown {
	itemsTotal := decimal.Zero
	for _, item := range items {
		itemsTotal = itemsTotal.Add(item.Subtotal())
	}

	tax := itemsTotal.Mul(p.TaxRate).Round(2)

	shipping := p.ShippingFee
	if p.FreeShippingThreshold.IsPositive() && itemsTotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	return PriceBreakdown{
		Items:    itemsTotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    itemsTotal.Add(tax).Add(shipping),
	}
}
