package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/petportrait/backend/internal/models"
)

// CreditRepository owns the per-user balance row and its append-only
// transaction log. Both mutate in the same database transaction so a balance
// change can never exist without its log entry.
type CreditRepository struct {
	db *sql.DB
}

func NewCreditRepository(db *sql.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

func (r *CreditRepository) GetByUser(ctx context.Context, userID string) (*models.CreditAccount, error) {
	const query = `
SELECT id, user_id, balance, total_purchased, total_used, created_at, updated_at
FROM credit_accounts WHERE user_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID)
	var a models.CreditAccount
	if err := row.Scan(&a.ID, &a.UserID, &a.Balance, &a.TotalPurchased, &a.TotalUsed, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan credit account: %w", err)
	}
	return &a, nil
}

// Credit adds purchased credits, creating the account row on first purchase.
// The increment happens in SQL so concurrent credits serialize on the row.
func (r *CreditRepository) Credit(ctx context.Context, userID string, amount int, description string, paymentID *string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback()

	const upsert = `
INSERT INTO credit_accounts (id, user_id, balance, total_purchased, total_used)
VALUES (?, ?, ?, ?, 0)
ON DUPLICATE KEY UPDATE
    balance = balance + VALUES(balance),
    total_purchased = total_purchased + VALUES(total_purchased),
    updated_at = NOW()`
	if _, err := tx.ExecContext(ctx, upsert, uuid.NewString(), userID, amount, amount); err != nil {
		return nil, fmt.Errorf("credit balance: %w", err)
	}

	entry := &models.CreditTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		PaymentID:   paymentID,
		Type:        models.TransactionTypePurchase,
		Amount:      amount,
		Description: description,
	}
	if err := insertTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credit tx: %w", err)
	}
	return entry, nil
}

// Debit atomically checks and decrements the balance. The second return is
// false when the balance was insufficient; nothing is written in that case.
func (r *CreditRepository) Debit(ctx context.Context, userID string, amount int, description string) (*models.CreditTransaction, bool, error) {
	if amount <= 0 {
		return nil, false, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin debit tx: %w", err)
	}
	defer tx.Rollback()

	const update = `
UPDATE credit_accounts SET balance = balance - ?, total_used = total_used + ?, updated_at = NOW()
WHERE user_id = ? AND balance >= ?`
	res, err := tx.ExecContext(ctx, update, amount, amount, userID, amount)
	if err != nil {
		return nil, false, fmt.Errorf("debit balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("debit rows affected: %w", err)
	}
	if affected == 0 {
		return nil, false, nil
	}

	entry := &models.CreditTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        models.TransactionTypeUsage,
		Amount:      -amount,
		Description: description,
	}
	if err := insertTransaction(ctx, tx, entry); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit debit tx: %w", err)
	}
	return entry, true, nil
}

func (r *CreditRepository) ListTransactions(ctx context.Context, userID string) ([]models.CreditTransaction, error) {
	const query = `
SELECT id, user_id, payment_id, type, amount, COALESCE(description, ''), created_at
FROM credit_transactions WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	var entries []models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		var paymentID sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &paymentID, &t.Type, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		if paymentID.Valid {
			t.PaymentID = &paymentID.String
		}
		entries = append(entries, t)
	}
	return entries, rows.Err()
}

func insertTransaction(ctx context.Context, tx *sql.Tx, entry *models.CreditTransaction) error {
	const query = `
INSERT INTO credit_transactions (id, user_id, payment_id, type, amount, description)
VALUES (?, ?, ?, ?, ?, NULLIF(?, ''))`
	if _, err := tx.ExecContext(ctx, query, entry.ID, entry.UserID, entry.PaymentID, entry.Type, entry.Amount, entry.Description); err != nil {
		return fmt.Errorf("insert credit transaction: %w", err)
	}
	return nil
}
