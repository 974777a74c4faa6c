package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adwave/pointpay/internal/domain/balance"
	"github.com/adwave/pointpay/internal/domain/ledger"
	"github.com/adwave/pointpay/internal/domain/withdrawals"
	"github.com/adwave/pointpay/internal/feecalc"
	"github.com/adwave/pointpay/internal/gateway"
	"github.com/adwave/pointpay/internal/notifier"
	"github.com/adwave/pointpay/internal/storage"
	"github.com/adwave/pointpay/internal/verification"
)

var (
	ErrInvalidAmount        = errors.New("amount must be a positive integer")
	ErrVerificationRequired = errors.New("identity verification and a registered bank account are required")
	ErrUnknownBank          = errors.New("unknown bank name")

	// ErrReconciliationPending means the gateway call ended with an unknown
	// outcome. The request stays PROCESSING and the hold stays in place
	// until reconciliation resolves it; reversing now could double-pay.
	ErrReconciliationPending = errors.New("transfer outcome unknown, reconciliation pending")
)

// reconcilerActor is recorded as processed_by on terminal transitions made
// by the reconciliation loop rather than an admin.
const reconcilerActor = "reconciler"

// Gateway is the external bank-transfer provider surface the orchestrator
// needs.
type Gateway interface {
	ProcessWithdrawal(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error)
	GetWithdrawalStatus(ctx context.Context, ref string) (*gateway.TransferStatusResult, error)
}

// Verifier reports whether a user is identity-verified with a bank account
// on file.
type Verifier interface {
	Verify(ctx context.Context, userID string) (verification.Status, error)
}

// Notifier dispatches fire-and-forget user notifications.
type Notifier interface {
	Notify(ctx context.Context, event notifier.Event) error
}

// Service orchestrates the withdrawal state machine: it validates
// submissions, places ledger holds, invokes the transfer gateway on
// approval and reconciles outcomes back into the ledger.
type Service struct {
	log      *slog.Logger
	store    storage.Storage
	calc     *feecalc.Calculator
	gateway  Gateway
	verifier Verifier
	notifier Notifier
}

func New(store storage.Storage, calc *feecalc.Calculator, gw Gateway, verifier Verifier, opts ...Option) *Service {
	svc := &Service{
		log:      slog.New(&slog.JSONHandler{}),
		store:    store,
		calc:     calc,
		gateway:  gw,
		verifier: verifier,
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.log = logger.With(slog.String("module", "settlement"))
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// SubmitParams are the user inputs to a withdrawal submission.
type SubmitParams struct {
	UserID        string
	Amount        int64
	BankName      string
	AccountNumber string
	AccountHolder string
	Description   string
}

// Submit validates a withdrawal request, places a hold on the ledger for
// the full requested amount and persists the request as PENDING. The hold
// covers the gross amount even though the provider only moves the net:
// fee and tax are collected from the same points.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (*withdrawals.Request, error) {
	if params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	status, err := s.verifier.Verify(ctx, params.UserID)
	if err != nil {
		return nil, fmt.Errorf("verifier.Verify: %w", err)
	}

	if !status.Ready() {
		return nil, ErrVerificationRequired
	}

	bankCode, ok := gateway.BankCode(params.BankName)
	if !ok {
		return nil, ErrUnknownBank
	}

	bank, err := withdrawals.NewBankInfo(params.BankName, bankCode, params.AccountNumber, params.AccountHolder)
	if err != nil {
		return nil, err
	}

	blnc, err := s.store.GetBalance(ctx, params.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrBalanceNotFound) {
			return nil, &balance.InsufficientError{Shortfall: params.Amount}
		}

		return nil, fmt.Errorf("store.GetBalance: %w", err)
	}

	eligibility := s.calc.CanWithdraw(ctx, params.Amount, blnc.Current())
	if !eligibility.CanWithdraw {
		return nil, &balance.InsufficientError{Shortfall: eligibility.Shortfall}
	}

	req, err := withdrawals.NewRequest(params.UserID, params.Amount, bank, eligibility.Breakdown, params.Description)
	if err != nil {
		return nil, err
	}

	// The storage layer re-checks the balance under lock; the eligibility
	// check above can go stale under concurrent submissions.
	if err := s.store.CreateWithdrawal(ctx, req); err != nil {
		return nil, fmt.Errorf("store.CreateWithdrawal: %w", err)
	}

	s.log.Info("withdrawal submitted",
		slog.String("withdrawal_id", req.ID()),
		slog.String("user_id", req.UserID()),
		slog.Int64("amount", req.Amount()),
		slog.String("breakdown_source", string(req.Breakdown().Source)),
	)

	return req, nil
}

// AdminApprove moves a PENDING request through PROCESSING to a terminal
// state. The fee/tax breakdown is re-derived at settlement time rather
// than trusted from submission: rates may have changed, and the recompute
// keeps the audit trail honest.
func (s *Service) AdminApprove(ctx context.Context, requestID, adminID string) (*withdrawals.Request, error) {
	req, err := s.store.MarkProcessing(ctx, requestID, adminID)
	if err != nil {
		return nil, fmt.Errorf("store.MarkProcessing: %w", err)
	}

	breakdown := s.calc.Breakdown(ctx, req.Amount())
	req.SetBreakdown(breakdown)

	result, err := s.gateway.ProcessWithdrawal(ctx, gateway.TransferRequest{
		IdempotencyKey: gateway.IdempotencyKey(req.ID()),
		BankCode:       req.Bank().BankCode,
		AccountNumber:  req.Bank().AccountNumber,
		AccountHolder:  req.Bank().AccountHolder,
		Amount:         breakdown.FinalAmount,
		Description:    req.Description(),
	})

	switch {
	case err == nil:
		if err := req.Complete(result.TransferID, adminID); err != nil {
			return nil, err
		}

		if err := s.store.FinalizeWithdrawal(ctx, req); err != nil {
			return nil, fmt.Errorf("store.FinalizeWithdrawal: %w", err)
		}

		s.log.Info("withdrawal completed",
			slog.String("withdrawal_id", req.ID()),
			slog.String("transfer_id", result.TransferID),
			slog.Int64("final_amount", breakdown.FinalAmount),
		)

		s.notify(req, notifier.KindWithdrawalCompleted)

		return req, nil

	case gateway.IsRejected(err):
		if ferr := req.Fail(err.Error(), adminID); ferr != nil {
			return nil, ferr
		}

		if ferr := s.store.FinalizeWithdrawal(ctx, req); ferr != nil {
			return nil, fmt.Errorf("store.FinalizeWithdrawal: %w", ferr)
		}

		s.log.Warn("withdrawal rejected by provider",
			slog.String("withdrawal_id", req.ID()),
			slog.Any("error", err),
		)

		s.notify(req, notifier.KindWithdrawalFailed)

		return req, fmt.Errorf("gateway.ProcessWithdrawal: %w", err)

	default:
		// Unknown outcome: the provider may have completed the transfer.
		// The request stays PROCESSING with the hold in place; the
		// reconciler resolves it via a status query.
		s.log.Warn("withdrawal outcome unknown, leaving in processing",
			slog.String("withdrawal_id", req.ID()),
			slog.Any("error", err),
		)

		return req, fmt.Errorf("%w: %s", ErrReconciliationPending, err.Error())
	}
}

// AdminReject refuses a PENDING request and reverses its hold.
func (s *Service) AdminReject(ctx context.Context, requestID, adminID, reason string) (*withdrawals.Request, error) {
	req, err := s.store.GetWithdrawal(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("store.GetWithdrawal: %w", err)
	}

	if err := req.Reject(reason, adminID); err != nil {
		return nil, err
	}

	if err := s.store.FinalizeWithdrawal(ctx, req); err != nil {
		return nil, fmt.Errorf("store.FinalizeWithdrawal: %w", err)
	}

	s.log.Info("withdrawal rejected",
		slog.String("withdrawal_id", req.ID()),
		slog.String("admin_id", adminID),
		slog.String("reason", reason),
	)

	return req, nil
}

// Reconcile resolves a request stuck in PROCESSING by querying the
// provider. The status lookup uses the idempotency key so a transfer whose
// initiation response was lost can still be found.
func (s *Service) Reconcile(ctx context.Context, requestID string) error {
	req, err := s.store.GetWithdrawal(ctx, requestID)
	if err != nil {
		return fmt.Errorf("store.GetWithdrawal: %w", err)
	}

	if req.Status() != withdrawals.StatusProcessing {
		return nil
	}

	result, err := s.gateway.GetWithdrawalStatus(ctx, gateway.IdempotencyKey(req.ID()))
	if err != nil {
		if gateway.IsRejected(err) {
			// The provider has no record of the transfer: the initiation
			// never landed, so the reversal cannot double-pay.
			return s.finalizeFailed(ctx, req, "transfer not registered at provider")
		}

		// Still unknown; retry on the next pass.
		return fmt.Errorf("gateway.GetWithdrawalStatus: %w", err)
	}

	switch result.Status {
	case gateway.TransferStatusCompleted:
		if err := req.Complete(result.TransferID, reconcilerActor); err != nil {
			return err
		}

		if err := s.store.FinalizeWithdrawal(ctx, req); err != nil {
			return fmt.Errorf("store.FinalizeWithdrawal: %w", err)
		}

		s.log.Info("reconciled withdrawal as completed",
			slog.String("withdrawal_id", req.ID()),
			slog.String("transfer_id", result.TransferID),
		)

		s.notify(req, notifier.KindWithdrawalCompleted)

		return nil

	case gateway.TransferStatusFailed:
		reason := result.Message
		if reason == "" {
			reason = "transfer failed at provider"
		}

		return s.finalizeFailed(ctx, req, reason)

	default:
		// Still pending at the provider.
		return nil
	}
}

func (s *Service) finalizeFailed(ctx context.Context, req *withdrawals.Request, reason string) error {
	if err := req.Fail(reason, reconcilerActor); err != nil {
		return err
	}

	if err := s.store.FinalizeWithdrawal(ctx, req); err != nil {
		return fmt.Errorf("store.FinalizeWithdrawal: %w", err)
	}

	s.log.Warn("reconciled withdrawal as failed",
		slog.String("withdrawal_id", req.ID()),
		slog.String("reason", reason),
	)

	s.notify(req, notifier.KindWithdrawalFailed)

	return nil
}

// notify dispatches outside the transactional boundary; a delivery failure
// never affects the settlement outcome.
func (s *Service) notify(req *withdrawals.Request, kind string) {
	if s.notifier == nil {
		return
	}

	event := notifier.Event{
		UserID: req.UserID(),
		Kind:   kind,
	}

	switch kind {
	case notifier.KindWithdrawalCompleted:
		event.Title = "Withdrawal completed"
		event.Message = fmt.Sprintf("Your withdrawal of %d points has been transferred.", req.Amount())
	case notifier.KindWithdrawalFailed:
		event.Title = "Withdrawal failed"
		event.Message = fmt.Sprintf("Your withdrawal of %d points was not completed and the points were returned.", req.Amount())
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.notifier.Notify(ctx, event); err != nil {
			s.log.Warn("notification dispatch failed", slog.Any("error", err))
		}
	}()
}

// Preview computes a fee/tax breakdown without side effects.
func (s *Service) Preview(ctx context.Context, amount int64) (withdrawals.Breakdown, error) {
	if amount <= 0 {
		return withdrawals.Breakdown{}, ErrInvalidAmount
	}

	return s.calc.Breakdown(ctx, amount), nil
}

// RecordEarn credits campaign-reward points to a user.
func (s *Service) RecordEarn(ctx context.Context, userID string, amount int64, description string) (*ledger.Entry, error) {
	entry, err := s.store.RecordEarn(ctx, userID, amount, description)
	if err != nil {
		return nil, fmt.Errorf("store.RecordEarn: %w", err)
	}

	return entry, nil
}

// Balance returns the user's current balance.
func (s *Service) Balance(ctx context.Context, userID string) (*balance.Balance, error) {
	blnc, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("store.GetBalance: %w", err)
	}

	return blnc, nil
}

// History returns the user's ledger entries, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]*ledger.Entry, error) {
	entries, err := s.store.Entries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("store.Entries: %w", err)
	}

	return entries, nil
}

// List returns withdrawal requests matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter storage.ListFilter) ([]*withdrawals.Request, int, error) {
	reqs, total, err := s.store.ListWithdrawals(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("store.ListWithdrawals: %w", err)
	}

	return reqs, total, nil
}
