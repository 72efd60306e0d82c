package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/jackc/pgx/v5"
)

type ProductRepository struct {
	db DBTX
}

func (r ProductRepository) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	query := `
		SELECT id, store_id, name, image, price::text, stock, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var (
			p     domain.Product
			price string
		)
		if err := rows.Scan(&p.ID, &p.StoreID, &p.Name, &p.Image, &price, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if p.Price, err = parseMoney("price", price); err != nil {
			return nil, err
		}
		products[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return products, nil
}

// DecrementStock subtracts in a single statement so concurrent decrements
// never lose an update. Stock may go negative; callers treat <= 0 as depleted.
func (r ProductRepository) DecrementStock(ctx context.Context, productID string, qty int) (domain.StockLevel, error) {
	query := `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1
		RETURNING id, store_id, name, stock
	`

	var level domain.StockLevel
	err := r.db.QueryRow(ctx, query, productID, qty).Scan(
		&level.ProductID,
		&level.StoreID,
		&level.Name,
		&level.Remaining,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StockLevel{}, domain.NotFoundf("product %s", productID)
		}
		return domain.StockLevel{}, fmt.Errorf("decrement stock: %w", err)
	}

	return level, nil
}

func (r ProductRepository) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	var store domain.Store
	err := r.db.QueryRow(ctx,
		`SELECT id, name, contact_email FROM stores WHERE id = $1`, storeID,
	).Scan(&store.ID, &store.Name, &store.ContactEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("store %s", storeID)
		}
		return nil, fmt.Errorf("select store: %w", err)
	}
	return &store, nil
}

// UpsertStore and UpsertProduct seed the catalog subset this service reads.
func (r ProductRepository) UpsertStore(ctx context.Context, store domain.Store) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO stores (id, name, contact_email) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, contact_email = EXCLUDED.contact_email
	`, store.ID, store.Name, store.ContactEmail)
	if err != nil {
		return fmt.Errorf("upsert store: %w", err)
	}
	return nil
}

func (r ProductRepository) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO products (id, store_id, name, image, price, stock)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		ON CONFLICT (id) DO UPDATE
		SET store_id = EXCLUDED.store_id, name = EXCLUDED.name, image = EXCLUDED.image,
		    price = EXCLUDED.price, stock = EXCLUDED.stock, updated_at = now()
	`, p.ID, p.StoreID, p.Name, p.Image, p.Price.String(), p.Stock)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}
