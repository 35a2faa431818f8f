package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/petportrait/backend/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, user_id, session_id, COALESCE(provider_payment_id, ''), amount, currency, status, credits, created_at, updated_at`

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (id, user_id, session_id, provider_payment_id, amount, currency, status, credits)
VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, payment.ID, payment.UserID, payment.SessionID, payment.ProviderPayment, payment.Amount, payment.Currency, payment.Status, payment.Credits); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE session_id = ?`, sessionID)
	return scanPayment(row)
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID string) ([]models.Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.UserID, &p.SessionID, &p.ProviderPayment, &p.Amount, &p.Currency, &p.Status, &p.Credits, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// CompleteBySession flips a payment from pending to completed and records the
// processor's payment id. The conditional status match makes the flip happen
// at most once, so the caller can gate the ledger credit on the return value
// under duplicate webhook delivery.
func (r *PaymentRepository) CompleteBySession(ctx context.Context, sessionID, providerPaymentID string) (bool, error) {
	const query = `
UPDATE payments SET status = 'completed', provider_payment_id = NULLIF(?, ''), updated_at = NOW()
WHERE session_id = ? AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, providerPaymentID, sessionID)
	if err != nil {
		return false, fmt.Errorf("complete payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return affected > 0, nil
}

// FailByProviderPayment marks the payment failed; no ledger effect.
func (r *PaymentRepository) FailByProviderPayment(ctx context.Context, providerPaymentID string) (bool, error) {
	const query = `
UPDATE payments SET status = 'failed', updated_at = NOW()
WHERE provider_payment_id = ? AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, providerPaymentID)
	if err != nil {
		return false, fmt.Errorf("fail payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail rows affected: %w", err)
	}
	return affected > 0, nil
}

func scanPayment(row *sql.Row) (*models.Payment, error) {
	var p models.Payment
	if err := row.Scan(&p.ID, &p.UserID, &p.SessionID, &p.ProviderPayment, &p.Amount, &p.Currency, &p.Status, &p.Credits, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}
