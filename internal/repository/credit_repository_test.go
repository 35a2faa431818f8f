package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petportrait/backend/internal/models"
)

func TestCreditRepositoryCredit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewCreditRepository(db)

	t.Run("creates account on first purchase and appends transaction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO credit_accounts").
			WithArgs(sqlmock.AnyArg(), "user-1", 200, 200).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO credit_transactions").
			WithArgs(sqlmock.AnyArg(), "user-1", nil, models.TransactionTypePurchase, 200, "Purchased 200 credits").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		entry, err := repo.Credit(context.Background(), "user-1", 200, "Purchased 200 credits", nil)
		require.NoError(t, err)
		assert.Equal(t, 200, entry.Amount)
		assert.Equal(t, models.TransactionTypePurchase, entry.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("links the payment reference", func(t *testing.T) {
		paymentID := "pay-1"
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO credit_accounts").
			WithArgs(sqlmock.AnyArg(), "user-1", 200, 200).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO credit_transactions").
			WithArgs(sqlmock.AnyArg(), "user-1", &paymentID, models.TransactionTypePurchase, 200, "Purchased 200 credits").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		entry, err := repo.Credit(context.Background(), "user-1", 200, "Purchased 200 credits", &paymentID)
		require.NoError(t, err)
		require.NotNil(t, entry.PaymentID)
		assert.Equal(t, "pay-1", *entry.PaymentID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := repo.Credit(context.Background(), "user-1", 0, "", nil)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreditRepositoryDebit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewCreditRepository(db)

	t.Run("debits and logs usage in one transaction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE credit_accounts SET balance = balance - ").
			WithArgs(20, 20, "user-1", 20).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO credit_transactions").
			WithArgs(sqlmock.AnyArg(), "user-1", nil, models.TransactionTypeUsage, -20, "Image generation job: job-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		entry, ok, err := repo.Debit(context.Background(), "user-1", 20, "Image generation job: job-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, -20, entry.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance leaves nothing behind", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE credit_accounts SET balance = balance - ").
			WithArgs(20, 20, "user-1", 20).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		entry, ok, err := repo.Debit(context.Background(), "user-1", 20, "Image generation job: job-2")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, entry)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreditRepositoryGetByUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewCreditRepository(db)

	t.Run("absent account returns nil", func(t *testing.T) {
		mock.ExpectQuery("FROM credit_accounts WHERE user_id").
			WithArgs("user-unknown").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "total_purchased", "total_used", "created_at", "updated_at"}))

		account, err := repo.GetByUser(context.Background(), "user-unknown")
		require.NoError(t, err)
		assert.Nil(t, account)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
