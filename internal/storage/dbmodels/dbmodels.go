package dbmodels

import (
	"database/sql"
	"time"
)

type UserBalance struct {
	UserID         string
	CurrentBalance int64
	TotalEarned    int64
	TotalWithdrawn int64
	UpdatedAt      time.Time
}

type LedgerEntry struct {
	ID          string
	UserID      string
	Amount      int64
	Kind        string
	Status      string
	Description string
	CreatedAt   time.Time
}

type WithdrawalRequest struct {
	ID              string
	UserID          string
	LedgerEntryID   string
	RequestedAmount int64
	TransferFee     int64
	TaxAmount       int64
	NetAmount       int64
	TotalRequired   int64
	BreakdownSource string
	BankName        string
	BankCode        string
	AccountNumber   string
	AccountHolder   string
	Description     string
	Status          string
	TransferID      string
	FailureReason   string
	ProcessedBy     string
	ProcessedAt     sql.NullTime
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
