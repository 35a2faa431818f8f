package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petportrait/backend/internal/config"
	"github.com/petportrait/backend/internal/metrics"
	"github.com/petportrait/backend/internal/models"
	"github.com/petportrait/backend/internal/repository"
	"github.com/petportrait/backend/internal/stripe"
)

const testWebhookSecret = "whsec_test"

type fakeProcessor struct {
	session    *stripe.CheckoutSession
	err        error
	calls      int
	lastParams stripe.CheckoutParams
}

func (f *fakeProcessor) CreateCheckoutSession(_ context.Context, params stripe.CheckoutParams) (*stripe.CheckoutSession, error) {
	f.calls++
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func newTestPaymentService(db *sql.DB, processor checkoutProcessor) *PaymentService {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		BaseURL:             "https://pets.example.com",
		StripeWebhookSecret: testWebhookSecret,
		PackagePriceCents:   1000,
		PackageCredits:      200,
		PaymentCurrency:     "usd",
	}
	payments := repository.NewPaymentRepository(db)
	ledger := NewLedgerService(repository.NewCreditRepository(db))
	return NewPaymentService(cfg, log, payments, ledger, processor, metrics.Registry("test"))
}

func signedPayload(t *testing.T, payload string) ([]byte, string) {
	t.Helper()
	raw := []byte(payload)
	return raw, stripe.SignPayload(raw, testWebhookSecret, time.Now())
}

func pendingPaymentRows(id, userID, sessionID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(paymentServiceTestColumns).
		AddRow(id, userID, sessionID, "", 1000, "usd", models.PaymentStatusPending, 200, now, now)
}

var paymentServiceTestColumns = []string{
	"id", "user_id", "session_id", "provider_payment_id", "amount",
	"currency", "status", "credits", "created_at", "updated_at",
}

func TestPaymentServiceCreateCheckout(t *testing.T) {
	t.Run("records a pending payment for the package", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		processor := &fakeProcessor{session: &stripe.CheckoutSession{
			ID:  "cs_1",
			URL: "https://checkout.stripe.com/pay/cs_1",
		}}
		svc := newTestPaymentService(db, processor)

		mock.ExpectExec("INSERT INTO payments").
			WithArgs(sqlmock.AnyArg(), "user-1", "cs_1", "", 1000, "usd", models.PaymentStatusPending, 200).
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := svc.CreateCheckout(context.Background(), "user-1", "pet@example.com")
		require.NoError(t, err)
		assert.Equal(t, "cs_1", result.SessionID)
		assert.Equal(t, "https://checkout.stripe.com/pay/cs_1", result.RedirectURL)
		assert.Equal(t, 1000, processor.lastParams.AmountCents)
		assert.Equal(t, 200, processor.lastParams.Credits)
		assert.Equal(t, "pet@example.com", processor.lastParams.CustomerEmail)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("processor failure writes nothing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		processor := &fakeProcessor{err: errors.New("stripe: 503")}
		svc := newTestPaymentService(db, processor)

		_, err = svc.CreateCheckout(context.Background(), "user-1", "pet@example.com")
		assert.ErrorIs(t, err, ErrProviderUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentServiceHandleWebhook(t *testing.T) {
	t.Run("completed checkout credits the ledger once", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		svc := newTestPaymentService(db, &fakeProcessor{})

		payload, sig := signedPayload(t, `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_intent":"pi_1","metadata":{"userId":"user-1","credits":"200"}}}}`)

		mock.ExpectQuery("FROM payments WHERE session_id").
			WithArgs("cs_1").
			WillReturnRows(pendingPaymentRows("pay-1", "user-1", "cs_1"))
		mock.ExpectExec("UPDATE payments SET status = 'completed'").
			WithArgs("pi_1", "cs_1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO credit_accounts").
			WithArgs(sqlmock.AnyArg(), "user-1", 200, 200).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO credit_transactions").
			WithArgs(sqlmock.AnyArg(), "user-1", "pay-1", models.TransactionTypePurchase, 200, "Purchased 200 credits").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, svc.HandleWebhook(context.Background(), payload, sig))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed delivery does not credit again", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		svc := newTestPaymentService(db, &fakeProcessor{})

		payload, sig := signedPayload(t, `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_intent":"pi_1","metadata":{"credits":"200"}}}}`)

		mock.ExpectQuery("FROM payments WHERE session_id").
			WithArgs("cs_1").
			WillReturnRows(pendingPaymentRows("pay-1", "user-1", "cs_1"))
		mock.ExpectExec("UPDATE payments SET status = 'completed'").
			WithArgs("pi_1", "cs_1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, svc.HandleWebhook(context.Background(), payload, sig))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown session is rejected", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		svc := newTestPaymentService(db, &fakeProcessor{})

		payload, sig := signedPayload(t, `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_ghost","payment_intent":"pi_1"}}}`)

		mock.ExpectQuery("FROM payments WHERE session_id").
			WithArgs("cs_ghost").
			WillReturnRows(sqlmock.NewRows(paymentServiceTestColumns))

		err = svc.HandleWebhook(context.Background(), payload, sig)
		assert.ErrorIs(t, err, ErrUnknownPayment)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("bad signature touches nothing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		svc := newTestPaymentService(db, &fakeProcessor{})

		payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
		sig := stripe.SignPayload([]byte(`{"tampered":true}`), testWebhookSecret, time.Now())

		err = svc.HandleWebhook(context.Background(), payload, sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed intent marks the payment failed", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		svc := newTestPaymentService(db, &fakeProcessor{})

		payload, sig := signedPayload(t, `{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_9"}}}`)

		mock.ExpectExec("UPDATE payments SET status = 'failed'").
			WithArgs("pi_9").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.HandleWebhook(context.Background(), payload, sig))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unrecognized events are ignored", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		svc := newTestPaymentService(db, &fakeProcessor{})

		payload, sig := signedPayload(t, `{"id":"evt_3","type":"invoice.paid","data":{"object":{}}}`)

		require.NoError(t, svc.HandleWebhook(context.Background(), payload, sig))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentServiceBilling(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := newTestPaymentService(db, &fakeProcessor{})
	now := time.Now()

	mock.ExpectQuery("FROM credit_accounts WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(accountRows("user-1", 180))
	mock.ExpectQuery("FROM payments WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(paymentServiceTestColumns).
			AddRow("pay-1", "user-1", "cs_1", "pi_1", 1000, "usd", models.PaymentStatusCompleted, 200, now, now))
	mock.ExpectQuery("FROM credit_transactions WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "payment_id", "type", "amount", "description", "created_at"}).
			AddRow("txn-2", "user-1", nil, models.TransactionTypeUsage, -20, "Image generation job: job-1", now).
			AddRow("txn-1", "user-1", "pay-1", models.TransactionTypePurchase, 200, "Purchased 200 credits", now))

	summary, err := svc.Billing(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, summary.Account)
	assert.Equal(t, 180, summary.Account.Balance)
	require.Len(t, summary.Payments, 1)
	require.Len(t, summary.Transactions, 2)
	assert.Equal(t, models.TransactionTypeUsage, summary.Transactions[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}
