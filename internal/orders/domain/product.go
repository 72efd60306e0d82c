package domain

import "time"

// Store is the tenant that owns products.
type Store struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContactEmail string `json:"contact_email"`
}

// Product is the subset of catalog data the ordering flow relies on.
type Product struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"store_id"`
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	Price     Money     `json:"price"`
	Stock     int       `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot captures the product as an order line.
func (p Product) Snapshot(quantity int) LineItem {
	return LineItem{
		ProductID: p.ID,
		Name:      p.Name,
		Image:     p.Image,
		Quantity:  quantity,
		UnitPrice: p.Price,
	}
}

// StockLevel is the product stock after an atomic decrement.
type StockLevel struct {
	ProductID string `json:"product_id"`
	StoreID   string `json:"store_id"`
	Name      string `json:"name"`
	Remaining int    `json:"remaining"`
}

// Depleted reports whether the product needs restocking.
func (s StockLevel) Depleted() bool {
	return s.Remaining <= 0
}
