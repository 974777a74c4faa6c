package storage

import (
	"context"
	"errors"

	"github.com/adwave/pointpay/internal/domain/balance"
	"github.com/adwave/pointpay/internal/domain/ledger"
	"github.com/adwave/pointpay/internal/domain/withdrawals"
)

var (
	ErrBalanceNotFound     = errors.New("user balance not found")
	ErrEntryNotFound       = errors.New("ledger entry not found")
	ErrEntryAlreadySettled = errors.New("ledger entry is already settled")
	ErrWithdrawalNotFound  = errors.New("withdrawal request not found")
	ErrDuplicateProcessing = errors.New("withdrawal request is not in the expected status")
)

// ListFilter selects withdrawal requests for paginated listing.
type ListFilter struct {
	Statuses []withdrawals.Status
	Page     int
	Limit    int
}

func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}

	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}

	return f
}

// LedgerStorage is the authoritative points ledger. CreateHold's balance
// check and decrement execute as one atomic step; that is the correctness
// boundary of the whole subsystem.
type LedgerStorage interface {
	RecordEarn(ctx context.Context, userID string, amount int64, description string) (*ledger.Entry, error)
	CreateHold(ctx context.Context, userID string, amount int64, description string) (*ledger.Entry, error)
	SettleHold(ctx context.Context, entryID string, outcome ledger.Status) error
	GetBalance(ctx context.Context, userID string) (*balance.Balance, error)
	Entries(ctx context.Context, userID string) ([]*ledger.Entry, error)
}

// WithdrawalStorage persists withdrawal requests and drives their status
// transitions together with the backing ledger hold.
type WithdrawalStorage interface {
	// CreateWithdrawal creates the ledger hold and persists the request as
	// one atomic step, linking the hold's entry id into the request.
	CreateWithdrawal(ctx context.Context, req *withdrawals.Request) error

	GetWithdrawal(ctx context.Context, id string) (*withdrawals.Request, error)
	ListWithdrawals(ctx context.Context, filter ListFilter) ([]*withdrawals.Request, int, error)

	// MarkProcessing transitions PENDING to PROCESSING with a compare-and-
	// swap on status, returning ErrDuplicateProcessing when the request is
	// no longer pending.
	MarkProcessing(ctx context.Context, id, adminID string) (*withdrawals.Request, error)

	// FinalizeWithdrawal persists a terminal request state and settles the
	// backing hold in the same atomic step: COMPLETED commits the hold,
	// FAILED and REJECTED reverse it.
	FinalizeWithdrawal(ctx context.Context, req *withdrawals.Request) error
}

type Storage interface {
	LedgerStorage
	WithdrawalStorage
	Close() error
	Ping(ctx context.Context) error
}

func NewStorage(store Storage) Storage {
	return store
}
