package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Money is an amount in major currency units.
type Money = decimal.Decimal

// LineItem is a product snapshot taken when the order was placed.
type LineItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
}

// Subtotal is unit price times quantity.
func (l LineItem) Subtotal() Money {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ShippingInfo is the postal destination of an order.
type ShippingInfo struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

// Validate ensures every shipping field is present.
func (s ShippingInfo) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"address", s.Address},
		{"city", s.City},
		{"state", s.State},
		{"postal_code", s.PostalCode},
		{"country", s.Country},
		{"phone", s.Phone},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return Validationf("shipping.%s is required", f.name)
		}
	}
	return nil
}

// PaymentInfo links an order to the payment that settled it.
type PaymentInfo struct {
	ID        string        `json:"id"`
	Reference string        `json:"reference"`
	Status    PaymentStatus `json:"status"`
	Channel   string        `json:"channel"`
}

// PriceBreakdown holds the order totals. Total is items + tax + shipping.
type PriceBreakdown struct {
	Items    Money `json:"items"`
	Tax      Money `json:"tax"`
	Shipping Money `json:"shipping"`
	Total    Money `json:"total"`
}

// Order represents a purchase placed by a user.
type Order struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	CustomerEmail string         `json:"customer_email"`
	Items         []LineItem     `json:"items"`
	Shipping      ShippingInfo   `json:"shipping"`
	Payment       *PaymentInfo   `json:"payment,omitempty"`
	Pricing       PriceBreakdown `json:"pricing"`
	Status        OrderStatus    `json:"status"`
	PaidAt        *time.Time     `json:"paid_at,omitempty"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Validate ensures the order adheres to business constraints.
func (o Order) Validate() error {
	if strings.TrimSpace(o.UserID) == "" {
		return Validationf("user_id is required")
	}
	if !strings.Contains(o.CustomerEmail, "@") {
		return Validationf("customer_email must be valid")
	}
	if len(o.Items) == 0 {
		return Validationf("order must contain at least one item")
	}
	for i, item := range o.Items {
		if item.Quantity < 1 {
			return Validationf("items[%d].quantity must be at least 1", i)
		}
		if item.UnitPrice.IsNegative() {
			return Validationf("items[%d].unit_price must not be negative", i)
		}
	}
	if err := o.Shipping.Validate(); err != nil {
		return err
	}
	if !o.Status.Valid() {
		return Validationf("unknown order status %q", o.Status)
	}
	return nil
}

// IsPaid reports whether a payment has already been applied to the order.
func (o Order) IsPaid() bool {
	return o.PaidAt != nil
}

// CanCancel reports whether cancel is allowed. Only delivered orders refuse.
func (o Order) CanCancel() bool {
	return o.Status != StatusDelivered
}

// IsTerminal indicates whether the order is in a terminal state.
func (o Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// Quantities sums requested quantity per product across all lines.
func (o Order) Quantities() map[string]int {
	out := make(map[string]int, len(o.Items))
	for _, item := range o.Items {
		out[item.ProductID] += item.Quantity
	}
	return out
}
