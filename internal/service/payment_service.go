package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/petportrait/backend/internal/config"
	"github.com/petportrait/backend/internal/metrics"
	"github.com/petportrait/backend/internal/models"
	"github.com/petportrait/backend/internal/repository"
	"github.com/petportrait/backend/internal/stripe"
)

// checkoutProcessor is the slice of the payment processor client the service
// depends on.
type checkoutProcessor interface {
	CreateCheckoutSession(ctx context.Context, params stripe.CheckoutParams) (*stripe.CheckoutSession, error)
}

// PaymentService creates checkout sessions and reconciles the processor's
// webhook events into the credit ledger exactly once.
type PaymentService struct {
	cfg       config.Config
	log       *slog.Logger
	payments  *repository.PaymentRepository
	ledger    *LedgerService
	processor checkoutProcessor
	metrics   *metrics.Metrics
}

func NewPaymentService(cfg config.Config, log *slog.Logger, payments *repository.PaymentRepository, ledger *LedgerService, processor checkoutProcessor, m *metrics.Metrics) *PaymentService {
	return &PaymentService{
		cfg:       cfg,
		log:       log,
		payments:  payments,
		ledger:    ledger,
		processor: processor,
		metrics:   m,
	}
}

// CheckoutResult carries what the UI needs to send the user to the hosted
// payment page.
type CheckoutResult struct {
	SessionID   string
	RedirectURL string
}

// CreateCheckout opens a hosted checkout session for the fixed credit
// package and records a pending payment keyed by the session id. Credits are
// only granted later, by the completion webhook.
func (s *PaymentService) CreateCheckout(ctx context.Context, userID, email string) (*CheckoutResult, error) {
	session, err := s.processor.CreateCheckoutSession(ctx, stripe.CheckoutParams{
		UserID:        userID,
		CustomerEmail: email,
		AmountCents:   s.cfg.PackagePriceCents,
		Currency:      s.cfg.PaymentCurrency,
		Credits:       s.cfg.PackageCredits,
		ProductName:   fmt.Sprintf("%d credits", s.cfg.PackageCredits),
		SuccessURL:    s.cfg.BaseURL + "/billing?success=true",
		CancelURL:     s.cfg.BaseURL + "/pricing?canceled=true",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	payment := &models.Payment{
		ID:              uuid.NewString(),
		UserID:          userID,
		SessionID:       session.ID,
		ProviderPayment: session.PaymentIntent,
		Amount:          s.cfg.PackagePriceCents,
		Currency:        s.cfg.PaymentCurrency,
		Status:          models.PaymentStatusPending,
		Credits:         s.cfg.PackageCredits,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	s.log.Info("checkout session created", "session_id", session.ID, "user_id", userID)
	return &CheckoutResult{SessionID: session.ID, RedirectURL: session.URL}, nil
}

// HandleWebhook verifies and applies one processor event. Completion events
// credit the ledger exactly once: the pending-to-completed flip is a
// conditional update, and only the call that wins the flip performs the
// credit, so at-least-once delivery and crash retries cannot double-grant.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := stripe.ConstructEvent(payload, sigHeader, s.cfg.StripeWebhookSecret, stripe.DefaultTolerance)
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues("unknown", "bad_signature").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case stripe.EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case stripe.EventPaymentFailed:
		return s.handlePaymentFailed(ctx, event)
	default:
		s.log.Info("unhandled webhook event", "type", event.Type)
		s.metrics.WebhookEvents.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}
}

func (s *PaymentService) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	obj, err := event.Checkout()
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues(event.Type, "malformed").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	payment, err := s.payments.GetBySessionID(ctx, obj.ID)
	if err != nil {
		return err
	}
	if payment == nil {
		s.metrics.WebhookEvents.WithLabelValues(event.Type, "unknown_payment").Inc()
		return fmt.Errorf("%w: session %s", ErrUnknownPayment, obj.ID)
	}

	applied, err := s.payments.CompleteBySession(ctx, obj.ID, obj.PaymentIntent)
	if err != nil {
		return err
	}
	if !applied {
		// Replay of an event we already processed.
		s.log.Info("payment already completed, skipping", "session_id", obj.ID)
		s.metrics.WebhookEvents.WithLabelValues(event.Type, "replay").Inc()
		return nil
	}

	credits := payment.Credits
	if raw, ok := obj.Metadata["credits"]; ok {
		if parsed, parseErr := strconv.Atoi(raw); parseErr == nil && parsed > 0 {
			credits = parsed
		}
	}

	if _, err := s.ledger.Credit(ctx, payment.UserID, credits, fmt.Sprintf("Purchased %d credits", credits), &payment.ID); err != nil {
		return fmt.Errorf("credit after completion: %w", err)
	}

	s.metrics.WebhookEvents.WithLabelValues(event.Type, "ok").Inc()
	s.metrics.CreditsCredited.Add(float64(credits))
	s.log.Info("payment completed", "session_id", obj.ID, "user_id", payment.UserID, "credits", credits)
	return nil
}

func (s *PaymentService) handlePaymentFailed(ctx context.Context, event *stripe.Event) error {
	obj, err := event.PaymentIntent()
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues(event.Type, "malformed").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	applied, err := s.payments.FailByProviderPayment(ctx, obj.ID)
	if err != nil {
		return err
	}
	if !applied {
		s.log.Info("no pending payment for failed intent", "payment_intent", obj.ID)
	}
	s.metrics.WebhookEvents.WithLabelValues(event.Type, "ok").Inc()
	return nil
}

// BillingSummary bundles the account, payment history and ledger entries for
// the billing page. The account is nil for users who never purchased.
type BillingSummary struct {
	Account      *models.CreditAccount
	Payments     []models.Payment
	Transactions []models.CreditTransaction
}

func (s *PaymentService) Billing(ctx context.Context, userID string) (*BillingSummary, error) {
	account, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	payments, err := s.payments.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	transactions, err := s.ledger.Transactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BillingSummary{Account: account, Payments: payments, Transactions: transactions}, nil
}
