package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/jackc/pgx/v5"
)

type PaymentRepository struct {
	db DBTX
}

const paymentColumns = `
	id, reference, order_id, user_id, amount::text, currency, method, status,
	authorization_code, metadata, paid_at, created_at, updated_at`

func (r PaymentRepository) Create(ctx context.Context, payment domain.Payment) error {
	metadata, err := marshalMetadata(payment.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payments (
			id, reference, order_id, user_id, amount, currency, method, status,
			authorization_code, metadata, paid_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.Exec(ctx, query,
		payment.ID,
		payment.Reference,
		payment.OrderID,
		payment.UserID,
		payment.Amount.String(),
		payment.Currency,
		payment.Method,
		payment.Status,
		payment.AuthorizationCode,
		metadata,
		payment.PaidAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("payment reference %s already exists", payment.Reference)
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r PaymentRepository) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	query := `SELECT` + paymentColumns + ` FROM payments WHERE reference = $1`

	payment, err := scanPayment(r.db.QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("payment %s", reference)
		}
		return nil, fmt.Errorf("select payment: %w", err)
	}

	return payment, nil
}

func (r PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	query := `SELECT` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *payment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}

	return payments, nil
}

// Complete is a compare-and-set on status = pending. Under concurrency the
// losing transaction blocks on the row lock and then matches zero rows.
func (r PaymentRepository) Complete(ctx context.Context, reference string, c ports.PaymentCompletion) (bool, error) {
	metadata, err := marshalMetadata(c.Metadata)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE payments
		SET status = $2,
		    method = COALESCE(NULLIF($3, ''), method),
		    authorization_code = COALESCE(NULLIF($4, ''), authorization_code),
		    paid_at = $5,
		    metadata = metadata || $6::jsonb,
		    updated_at = $7
		WHERE reference = $1 AND status = $8
	`

	result, err := r.db.Exec(ctx, query,
		reference,
		c.Status,
		string(c.Method),
		c.AuthorizationCode,
		c.PaidAt,
		metadata,
		c.At,
		domain.PaymentPending,
	)
	if err != nil {
		return false, fmt.Errorf("complete payment: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetByReference(ctx, reference); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

func (r PaymentRepository) Annotate(ctx context.Context, reference string, metadata map[string]any) error {
	raw, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(ctx,
		`UPDATE payments SET metadata = metadata || $2::jsonb WHERE reference = $1`,
		reference, raw,
	)
	if err != nil {
		return fmt.Errorf("annotate payment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NotFoundf("payment %s", reference)
	}
	return nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal payment metadata: %w", err)
	}
	return raw, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		payment  domain.Payment
		amount   string
		metadata []byte
	)

	err := row.Scan(
		&payment.ID,
		&payment.Reference,
		&payment.OrderID,
		&payment.UserID,
		&amount,
		&payment.Currency,
		&payment.Method,
		&payment.Status,
		&payment.AuthorizationCode,
		&metadata,
		&payment.PaidAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payment.Amount, err = parseMoney("amount", amount); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &payment.Metadata); err != nil {
			return nil, fmt.Errorf("decode payment metadata: %w", err)
		}
	}

	return &payment, nil
}
