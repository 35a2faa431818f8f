package models

import "time"

type JobStatus string

const (
	JobStatusWaiting    JobStatus = "waiting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSuccess    JobStatus = "success"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type TransactionType string

const (
	TransactionTypePurchase TransactionType = "purchase"
	TransactionTypeUsage    TransactionType = "usage"
	TransactionTypeRefund   TransactionType = "refund"
)

type CreditAccount struct {
	ID             string
	UserID         string
	Balance        int
	TotalPurchased int
	TotalUsed      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type CreditTransaction struct {
	ID          string
	UserID      string
	PaymentID   *string
	Type        TransactionType
	Amount      int
	Description string
	CreatedAt   time.Time
}

type Payment struct {
	ID              string
	UserID          string
	SessionID       string
	ProviderPayment string
	Amount          int
	Currency        string
	Status          PaymentStatus
	Credits         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type GenerationJob struct {
	ID                string
	ProviderJobID     string
	UserID            string
	OriginalImageURL  string
	GeneratedImageURL string
	Prompt            string
	Style             string
	Status            JobStatus
	ErrorMessage      string
	CreditsUsed       int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}
