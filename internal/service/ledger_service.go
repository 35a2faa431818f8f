package service

import (
	"context"
	"fmt"

	"github.com/petportrait/backend/internal/models"
	"github.com/petportrait/backend/internal/repository"
)

// LedgerService fronts the credit account and its transaction log. All
// arithmetic happens at the storage layer; this service only shapes the
// calls and failures.
type LedgerService struct {
	credits *repository.CreditRepository
}

func NewLedgerService(credits *repository.CreditRepository) *LedgerService {
	return &LedgerService{credits: credits}
}

// GetBalance returns the user's account, or nil when the user has never
// purchased credits.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (*models.CreditAccount, error) {
	return s.credits.GetByUser(ctx, userID)
}

// Credit adds purchased credits, creating the account on first purchase.
func (s *LedgerService) Credit(ctx context.Context, userID string, amount int, description string, paymentID *string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: credit amount must be positive", ErrInvalidRequest)
	}
	return s.credits.Credit(ctx, userID, amount, description, paymentID)
}

// Debit consumes credits, failing with ErrInsufficientCredits and no
// mutation when the balance does not cover the amount.
func (s *LedgerService) Debit(ctx context.Context, userID string, amount int, description string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: debit amount must be positive", ErrInvalidRequest)
	}
	entry, ok, err := s.credits.Debit(ctx, userID, amount, description)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientCredits
	}
	return entry, nil
}

// Transactions lists the user's ledger entries newest-first.
func (s *LedgerService) Transactions(ctx context.Context, userID string) ([]models.CreditTransaction, error) {
	return s.credits.ListTransactions(ctx, userID)
}
