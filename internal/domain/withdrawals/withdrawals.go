package withdrawals

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidAmount      = errors.New("withdrawal amount must be a positive integer")
	ErrBankInfoIncomplete = errors.New("bank name, account number and account holder are required")
	ErrNotPending         = errors.New("withdrawal request is not pending")
	ErrNotProcessing      = errors.New("withdrawal request is not processing")
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRejected   Status = "REJECTED"
)

func ParseStatus(status string) (Status, error) {
	switch Status(status) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRejected:
		return Status(status), nil
	default:
		return "", fmt.Errorf("unknown withdrawal status: %s", status)
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

// Source marks whether fee/tax numbers came from the authoritative tax
// service or from the local deterministic fallback.
type Source string

const (
	SourceAuthoritative Source = "authoritative"
	SourceFallback      Source = "fallback"
)

func ParseSource(source string) (Source, error) {
	switch Source(source) {
	case SourceAuthoritative, SourceFallback:
		return Source(source), nil
	default:
		return "", fmt.Errorf("unknown breakdown source: %s", source)
	}
}

// Breakdown is the fee/tax decomposition of a requested amount. FinalAmount
// is what the transfer provider actually moves; TotalRequired is what the
// eligibility check compares against the available balance.
type Breakdown struct {
	TransferFee   int64
	TaxAmount     int64
	FinalAmount   int64
	TotalRequired int64
	Source        Source
}

// BankInfo is the payout destination. BankCode is resolved from BankName
// before a request is accepted; an unknown bank never reaches the gateway.
type BankInfo struct {
	BankName      string
	BankCode      string
	AccountNumber string
	AccountHolder string
}

func NewBankInfo(bankName, bankCode, accountNumber, accountHolder string) (BankInfo, error) {
	if bankName == "" || bankCode == "" || accountNumber == "" || accountHolder == "" {
		return BankInfo{}, ErrBankInfoIncomplete
	}

	return BankInfo{
		BankName:      bankName,
		BankCode:      bankCode,
		AccountNumber: accountNumber,
		AccountHolder: accountHolder,
	}, nil
}

// Request is a withdrawal audit record driven through the state machine
// PENDING -> PROCESSING -> {COMPLETED | FAILED} and PENDING -> REJECTED.
// Each terminal state is reachable exactly once.
type Request struct {
	id            string
	userID        string
	amount        int64
	breakdown     Breakdown
	bank          BankInfo
	description   string
	ledgerEntryID string
	status        Status
	transferID    string
	failureReason string
	processedBy   string
	processedAt   *time.Time
	createdAt     time.Time
	updatedAt     time.Time
}

func NewRequest(userID string, amount int64, bank BankInfo, breakdown Breakdown, description string) (*Request, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if bank.BankName == "" || bank.BankCode == "" || bank.AccountNumber == "" || bank.AccountHolder == "" {
		return nil, ErrBankInfoIncomplete
	}

	now := time.Now()

	return &Request{
		id:          uuid.NewString(),
		userID:      userID,
		amount:      amount,
		breakdown:   breakdown,
		bank:        bank,
		description: description,
		status:      StatusPending,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// Restore rehydrates a request from persisted fields.
func Restore(
	id, userID string,
	amount int64,
	breakdown Breakdown,
	bank BankInfo,
	description, ledgerEntryID, status, transferID, failureReason, processedBy string,
	processedAt *time.Time,
	createdAt, updatedAt time.Time,
) (*Request, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	return &Request{
		id:            id,
		userID:        userID,
		amount:        amount,
		breakdown:     breakdown,
		bank:          bank,
		description:   description,
		ledgerEntryID: ledgerEntryID,
		status:        st,
		transferID:    transferID,
		failureReason: failureReason,
		processedBy:   processedBy,
		processedAt:   processedAt,
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}, nil
}

func (r *Request) ID() string {
	return r.id
}

func (r *Request) UserID() string {
	return r.userID
}

func (r *Request) Amount() int64 {
	return r.amount
}

func (r *Request) Breakdown() Breakdown {
	return r.breakdown
}

func (r *Request) Bank() BankInfo {
	return r.bank
}

func (r *Request) Description() string {
	return r.description
}

func (r *Request) LedgerEntryID() string {
	return r.ledgerEntryID
}

func (r *Request) Status() Status {
	return r.status
}

func (r *Request) TransferID() string {
	return r.transferID
}

func (r *Request) FailureReason() string {
	return r.failureReason
}

func (r *Request) ProcessedBy() string {
	return r.processedBy
}

func (r *Request) ProcessedAt() *time.Time {
	return r.processedAt
}

func (r *Request) CreatedAt() time.Time {
	return r.createdAt
}

func (r *Request) UpdatedAt() time.Time {
	return r.updatedAt
}

// SetLedgerEntryID links the pending hold created alongside the request.
// Called by the storage layer inside the submission transaction.
func (r *Request) SetLedgerEntryID(entryID string) {
	r.ledgerEntryID = entryID
}

// SetBreakdown replaces the stored fee/tax numbers with ones re-derived at
// settlement time.
func (r *Request) SetBreakdown(breakdown Breakdown) {
	r.breakdown = breakdown
}

// MarkProcessing moves PENDING to PROCESSING.
func (r *Request) MarkProcessing(adminID string) error {
	if r.status != StatusPending {
		return ErrNotPending
	}

	r.status = StatusProcessing
	r.processedBy = adminID
	r.updatedAt = time.Now()

	return nil
}

// Complete moves PROCESSING to COMPLETED with the provider's transfer id.
func (r *Request) Complete(transferID, by string) error {
	if r.status != StatusProcessing {
		return ErrNotProcessing
	}

	now := time.Now()
	r.status = StatusCompleted
	r.transferID = transferID
	r.processedBy = by
	r.processedAt = &now
	r.updatedAt = now

	return nil
}

// Fail moves PROCESSING to FAILED after a definite provider rejection.
func (r *Request) Fail(reason, by string) error {
	if r.status != StatusProcessing {
		return ErrNotProcessing
	}

	now := time.Now()
	r.status = StatusFailed
	r.failureReason = reason
	r.processedBy = by
	r.processedAt = &now
	r.updatedAt = now

	return nil
}

// Reject moves PENDING to REJECTED. Approval past PENDING closes this path.
func (r *Request) Reject(reason, by string) error {
	if r.status != StatusPending {
		return ErrNotPending
	}

	now := time.Now()
	r.status = StatusRejected
	r.failureReason = reason
	r.processedBy = by
	r.processedAt = &now
	r.updatedAt = now

	return nil
}

func (r *Request) Clone() *Request {
	clone := *r

	if r.processedAt != nil {
		at := *r.processedAt
		clone.processedAt = &at
	}

	return &clone
}
