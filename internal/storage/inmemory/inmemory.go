package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/adwave/pointpay/internal/domain/balance"
	"github.com/adwave/pointpay/internal/domain/ledger"
	"github.com/adwave/pointpay/internal/domain/withdrawals"
	"github.com/adwave/pointpay/internal/storage"
)

var _ storage.Storage = (*Storage)(nil)

// Storage is an in-memory ledger store. A single mutex serializes all
// balance mutations, which satisfies the atomic check-and-decrement
// requirement for holds.
type Storage struct {
	mu          sync.Mutex
	balances    map[string]*balance.Balance
	entries     map[string]*ledger.Entry
	userEntries map[string][]string
	requests    map[string]*withdrawals.Request
	requestIDs  []string
}

func NewStorage() *Storage {
	return &Storage{
		balances:    make(map[string]*balance.Balance),
		entries:     make(map[string]*ledger.Entry),
		userEntries: make(map[string][]string),
		requests:    make(map[string]*withdrawals.Request),
	}
}

func (s *Storage) Close() error {
	return nil
}

func (s *Storage) Ping(_ context.Context) error {
	return nil
}

func (s *Storage) RecordEarn(_ context.Context, userID string, amount int64, description string) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := ledger.NewEarned(userID, amount, description)
	if err != nil {
		return nil, err
	}

	blnc, ok := s.balances[userID]
	if !ok {
		blnc = balance.NewBalance(userID)
		s.balances[userID] = blnc
	}

	blnc.AddEarned(amount)

	s.entries[entry.ID()] = entry
	s.userEntries[userID] = append(s.userEntries[userID], entry.ID())

	return entry.Clone(), nil
}

func (s *Storage) CreateHold(_ context.Context, userID string, amount int64, description string) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.createHoldLocked(userID, amount, description)
	if err != nil {
		return nil, err
	}

	return entry.Clone(), nil
}

func (s *Storage) createHoldLocked(userID string, amount int64, description string) (*ledger.Entry, error) {
	entry, err := ledger.NewHold(userID, amount, description)
	if err != nil {
		return nil, err
	}

	blnc, ok := s.balances[userID]
	if !ok {
		return nil, storage.ErrBalanceNotFound
	}

	if err := blnc.Hold(amount); err != nil {
		return nil, err
	}

	s.entries[entry.ID()] = entry
	s.userEntries[userID] = append(s.userEntries[userID], entry.ID())

	return entry, nil
}

func (s *Storage) SettleHold(_ context.Context, entryID string, outcome ledger.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.settleHoldLocked(entryID, outcome)
}

func (s *Storage) settleHoldLocked(entryID string, outcome ledger.Status) error {
	entry, ok := s.entries[entryID]
	if !ok {
		return storage.ErrEntryNotFound
	}

	if entry.Status() != ledger.StatusPending {
		return storage.ErrEntryAlreadySettled
	}

	if err := entry.Settle(outcome); err != nil {
		return err
	}

	blnc, ok := s.balances[entry.UserID()]
	if !ok {
		return storage.ErrBalanceNotFound
	}

	switch outcome {
	case ledger.StatusCompleted:
		blnc.CommitHold(entry.Held())
	case ledger.StatusCancelled:
		blnc.ReleaseHold(entry.Held())
	}

	return nil
}

func (s *Storage) GetBalance(_ context.Context, userID string) (*balance.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blnc, ok := s.balances[userID]
	if !ok {
		return nil, storage.ErrBalanceNotFound
	}

	return blnc.Clone(), nil
}

func (s *Storage) Entries(_ context.Context, userID string) ([]*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryIDs := s.userEntries[userID]

	entries := make([]*ledger.Entry, 0, len(entryIDs))
	for _, id := range entryIDs {
		entries = append(entries, s.entries[id].Clone())
	}

	// Newest first.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt().After(entries[j].CreatedAt())
	})

	return entries, nil
}

func (s *Storage) CreateWithdrawal(_ context.Context, req *withdrawals.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.createHoldLocked(req.UserID(), req.Amount(), "withdrawal "+req.ID())
	if err != nil {
		return err
	}

	req.SetLedgerEntryID(entry.ID())

	s.requests[req.ID()] = req.Clone()
	s.requestIDs = append(s.requestIDs, req.ID())

	return nil
}

func (s *Storage) GetWithdrawal(_ context.Context, id string) (*withdrawals.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, storage.ErrWithdrawalNotFound
	}

	return req.Clone(), nil
}

func (s *Storage) ListWithdrawals(_ context.Context, filter storage.ListFilter) ([]*withdrawals.Request, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filter = filter.Normalize()

	matched := make([]*withdrawals.Request, 0)

	// Newest first.
	for i := len(s.requestIDs) - 1; i >= 0; i-- {
		req := s.requests[s.requestIDs[i]]

		if len(filter.Statuses) > 0 && !statusMatches(req.Status(), filter.Statuses) {
			continue
		}

		matched = append(matched, req)
	}

	total := len(matched)

	offset := (filter.Page - 1) * filter.Limit
	if offset >= total {
		return []*withdrawals.Request{}, total, nil
	}

	end := offset + filter.Limit
	if end > total {
		end = total
	}

	page := make([]*withdrawals.Request, 0, end-offset)
	for _, req := range matched[offset:end] {
		page = append(page, req.Clone())
	}

	return page, total, nil
}

func statusMatches(status withdrawals.Status, statuses []withdrawals.Status) bool {
	for _, st := range statuses {
		if status == st {
			return true
		}
	}

	return false
}

func (s *Storage) MarkProcessing(_ context.Context, id, adminID string) (*withdrawals.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, storage.ErrWithdrawalNotFound
	}

	if err := req.MarkProcessing(adminID); err != nil {
		return nil, storage.ErrDuplicateProcessing
	}

	return req.Clone(), nil
}

func (s *Storage) FinalizeWithdrawal(_ context.Context, req *withdrawals.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.requests[req.ID()]
	if !ok {
		return storage.ErrWithdrawalNotFound
	}

	// CAS on the stored status: terminal states are reachable exactly once.
	switch req.Status() {
	case withdrawals.StatusCompleted, withdrawals.StatusFailed:
		if stored.Status() != withdrawals.StatusProcessing {
			return storage.ErrDuplicateProcessing
		}
	case withdrawals.StatusRejected:
		if stored.Status() != withdrawals.StatusPending {
			return storage.ErrDuplicateProcessing
		}
	default:
		return storage.ErrDuplicateProcessing
	}

	outcome := ledger.StatusCancelled
	if req.Status() == withdrawals.StatusCompleted {
		outcome = ledger.StatusCompleted
	}

	if err := s.settleHoldLocked(req.LedgerEntryID(), outcome); err != nil {
		return err
	}

	s.requests[req.ID()] = req.Clone()

	return nil
}
