package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/jackc/pgx/v5"
)

type OrderRepository struct {
	db DBTX
}

const orderColumns = `
	id, user_id, customer_email, items, shipping, payment_info,
	items_total::text, tax::text, shipping_fee::text, total::text,
	status, paid_at, delivered_at, created_at, updated_at`

func (r OrderRepository) Create(ctx context.Context, order domain.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}
	shipping, err := json.Marshal(order.Shipping)
	if err != nil {
		return fmt.Errorf("marshal shipping: %w", err)
	}
	var payment []byte
	if order.Payment != nil {
		if payment, err = json.Marshal(order.Payment); err != nil {
			return fmt.Errorf("marshal payment info: %w", err)
		}
	}

	query := `
		INSERT INTO orders (
			id, user_id, customer_email, items, shipping, payment_info,
			items_total, tax, shipping_fee, total,
			status, paid_at, delivered_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11, $12, $13, $14, $15)
	`

	_, err = r.db.Exec(ctx, query,
		order.ID,
		order.UserID,
		order.CustomerEmail,
		items,
		shipping,
		payment,
		order.Pricing.Items.String(),
		order.Pricing.Tax.String(),
		order.Pricing.Shipping.String(),
		order.Pricing.Total.String(),
		order.Status,
		order.PaidAt,
		order.DeliveredAt,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("order %s already exists", order.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

func (r OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("order %s", id)
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	return order, nil
}

func (r OrderRepository) List(ctx context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	filter = filter.Normalize()

	query := `SELECT` + orderColumns + `
		FROM orders
		WHERE ($1::text IS NULL OR user_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	var userFilter, statusFilter *string
	if filter.UserID != "" {
		userFilter = &filter.UserID
	}
	if filter.Status != nil {
		s := string(*filter.Status)
		statusFilter = &s
	}

	offset := (filter.Page - 1) * filter.PageSize

	rows, err := r.db.Query(ctx, query, userFilter, statusFilter, filter.PageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	return orders, nil
}

func (r OrderRepository) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) error {
	query := `
		UPDATE orders
		SET status = $3,
		    updated_at = $4,
		    delivered_at = CASE WHEN $3 = $5 THEN $4 ELSE delivered_at END
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.Exec(ctx, query, id, from, to, at, domain.StatusDelivered)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if result.RowsAffected() == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return domain.Conflictf("order %s is %s, expected %s", id, current.Status, from)
	}

	return nil
}

func (r OrderRepository) MarkPaid(ctx context.Context, id string, info domain.PaymentInfo, paidAt time.Time) (bool, error) {
	payment, err := json.Marshal(info)
	if err != nil {
		return false, fmt.Errorf("marshal payment info: %w", err)
	}

	query := `
		UPDATE orders
		SET payment_info = $2, paid_at = $3, updated_at = $3
		WHERE id = $1 AND paid_at IS NULL AND status <> $4
	`

	result, err := r.db.Exec(ctx, query, id, payment, paidAt, domain.StatusCancelled)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		order                               domain.Order
		items, shipping, payment            []byte
		itemsTotal, tax, shippingFee, total string
	)

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.CustomerEmail,
		&items,
		&shipping,
		&payment,
		&itemsTotal,
		&tax,
		&shippingFee,
		&total,
		&order.Status,
		&order.PaidAt,
		&order.DeliveredAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(shipping, &order.Shipping); err != nil {
		return nil, fmt.Errorf("decode shipping: %w", err)
	}
	if len(payment) > 0 {
		order.Payment = &domain.PaymentInfo{}
		if err := json.Unmarshal(payment, order.Payment); err != nil {
			return nil, fmt.Errorf("decode payment info: %w", err)
		}
	}

	if order.Pricing.Items, err = parseMoney("items_total", itemsTotal); err != nil {
		return nil, err
	}
	if order.Pricing.Tax, err = parseMoney("tax", tax); err != nil {
		return nil, err
	}
	if order.Pricing.Shipping, err = parseMoney("shipping_fee", shippingFee); err != nil {
		return nil, err
	}
	if order.Pricing.Total, err = parseMoney("total", total); err != nil {
		return nil, err
	}

	return &order, nil
}
