package settlement

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adwave/pointpay/internal/domain/balance"
	"github.com/adwave/pointpay/internal/domain/withdrawals"
	"github.com/adwave/pointpay/internal/feecalc"
	"github.com/adwave/pointpay/internal/gateway"
	"github.com/adwave/pointpay/internal/notifier"
	"github.com/adwave/pointpay/internal/storage"
	"github.com/adwave/pointpay/internal/storage/inmemory"
	"github.com/adwave/pointpay/internal/verification"
)

type stubGateway struct {
	mu           sync.Mutex
	processCalls int
	lastTransfer gateway.TransferRequest

	processResult *gateway.TransferResult
	processErr    error

	statusCalls  int
	statusResult *gateway.TransferStatusResult
	statusErr    error
}

func (g *stubGateway) ProcessWithdrawal(_ context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.processCalls++
	g.lastTransfer = req

	if g.processErr != nil {
		return nil, g.processErr
	}

	return g.processResult, nil
}

func (g *stubGateway) GetWithdrawalStatus(_ context.Context, _ string) (*gateway.TransferStatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.statusCalls++

	if g.statusErr != nil {
		return nil, g.statusErr
	}

	return g.statusResult, nil
}

type stubVerifier struct {
	status verification.Status
	err    error
}

func (v *stubVerifier) Verify(_ context.Context, _ string) (verification.Status, error) {
	return v.status, v.err
}

type stubNotifier struct {
	events chan notifier.Event
}

func newStubNotifier() *stubNotifier {
	return &stubNotifier{events: make(chan notifier.Event, 4)}
}

func (n *stubNotifier) Notify(_ context.Context, event notifier.Event) error {
	n.events <- event

	return nil
}

func (n *stubNotifier) waitForEvent(t *testing.T) notifier.Event {
	t.Helper()

	select {
	case event := <-n.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification event")

		return notifier.Event{}
	}
}

type testEnv struct {
	store    *inmemory.Storage
	gateway  *stubGateway
	verifier *stubVerifier
	notifier *stubNotifier
	svc      *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    inmemory.NewStorage(),
		gateway:  &stubGateway{},
		verifier: &stubVerifier{status: verification.Status{Verified: true, BankRegistered: true}},
		notifier: newStubNotifier(),
	}

	env.svc = New(env.store, feecalc.New(), env.gateway, env.verifier,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNotifier(env.notifier),
	)

	return env
}

func (e *testEnv) earn(t *testing.T, userID string, amount int64) {
	t.Helper()

	_, err := e.store.RecordEarn(context.Background(), userID, amount, "campaign reward")
	require.NoError(t, err)
}

func (e *testEnv) submit(t *testing.T, userID string, amount int64) *withdrawals.Request {
	t.Helper()

	req, err := e.svc.Submit(context.Background(), SubmitParams{
		UserID:        userID,
		Amount:        amount,
		BankName:      "Kakao Bank",
		AccountNumber: "3333-01-1234567",
		AccountHolder: "Kim Minsu",
		Description:   "payout",
	})
	require.NoError(t, err)

	return req
}

func (e *testEnv) balance(t *testing.T, userID string) *balance.Balance {
	t.Helper()

	blnc, err := e.store.GetBalance(context.Background(), userID)
	require.NoError(t, err)

	return blnc
}

func TestSubmit(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	req := env.submit(t, "user1", 5000)

	assert.Equal(t, withdrawals.StatusPending, req.Status())
	assert.Equal(t, "090", req.Bank().BankCode)
	assert.NotEmpty(t, req.LedgerEntryID())

	breakdown := req.Breakdown()
	assert.Equal(t, int64(500), breakdown.TransferFee)
	assert.Equal(t, int64(165), breakdown.TaxAmount)
	assert.Equal(t, int64(4835), breakdown.FinalAmount)
	assert.Equal(t, int64(5665), breakdown.TotalRequired)
	assert.Equal(t, withdrawals.SourceFallback, breakdown.Source)

	// The full requested amount is held, not the net.
	blnc := env.balance(t, "user1")
	assert.Equal(t, int64(5000), blnc.Current())
}

func TestSubmit_InsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 3000)

	_, err := env.svc.Submit(context.Background(), SubmitParams{
		UserID:        "user1",
		Amount:        5000,
		BankName:      "Kakao Bank",
		AccountNumber: "3333-01-1234567",
		AccountHolder: "Kim Minsu",
	})

	var insufficientErr *balance.InsufficientError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, int64(2665), insufficientErr.Shortfall)

	// No hold was created.
	blnc := env.balance(t, "user1")
	assert.Equal(t, int64(3000), blnc.Current())

	_, total, err := env.store.ListWithdrawals(context.Background(), storage.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSubmit_NoBalanceRecord(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Submit(context.Background(), SubmitParams{
		UserID:        "ghost",
		Amount:        5000,
		BankName:      "Kakao Bank",
		AccountNumber: "3333-01-1234567",
		AccountHolder: "Kim Minsu",
	})

	var insufficientErr *balance.InsufficientError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, int64(5000), insufficientErr.Shortfall)
}

func TestSubmit_InvalidAmount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Submit(context.Background(), SubmitParams{UserID: "user1", Amount: 0})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.svc.Submit(context.Background(), SubmitParams{UserID: "user1", Amount: -100})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSubmit_VerificationRequired(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)
	env.verifier.status = verification.Status{Verified: true, BankRegistered: false}

	_, err := env.svc.Submit(context.Background(), SubmitParams{
		UserID:        "user1",
		Amount:        5000,
		BankName:      "Kakao Bank",
		AccountNumber: "3333-01-1234567",
		AccountHolder: "Kim Minsu",
	})
	require.ErrorIs(t, err, ErrVerificationRequired)
}

func TestSubmit_UnknownBank(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	_, err := env.svc.Submit(context.Background(), SubmitParams{
		UserID:        "user1",
		Amount:        5000,
		BankName:      "Bank of Nowhere",
		AccountNumber: "3333-01-1234567",
		AccountHolder: "Kim Minsu",
	})
	require.ErrorIs(t, err, ErrUnknownBank)
}

func TestAdminApprove_Success(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	req := env.submit(t, "user1", 5000)

	env.gateway.processResult = &gateway.TransferResult{
		TransferID: "tr-123",
		Status:     gateway.TransferStatusCompleted,
	}

	approved, err := env.svc.AdminApprove(context.Background(), req.ID(), "admin1")
	require.NoError(t, err)

	assert.Equal(t, withdrawals.StatusCompleted, approved.Status())
	assert.Equal(t, "tr-123", approved.TransferID())
	assert.Equal(t, "admin1", approved.ProcessedBy())
	require.NotNil(t, approved.ProcessedAt())

	// The provider moves the net amount under a stable idempotency key.
	assert.Equal(t, int64(4835), env.gateway.lastTransfer.Amount)
	assert.Equal(t, gateway.IdempotencyKey(req.ID()), env.gateway.lastTransfer.IdempotencyKey)

	blnc := env.balance(t, "user1")
	assert.Equal(t, int64(5000), blnc.Current())
	assert.Equal(t, int64(5000), blnc.TotalWithdrawn())

	event := env.notifier.waitForEvent(t)
	assert.Equal(t, notifier.KindWithdrawalCompleted, event.Kind)
	assert.Equal(t, "user1", event.UserID)
}

func TestAdminApprove_DefiniteRejection(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	req := env.submit(t, "user1", 5000)

	env.gateway.processErr = &gateway.Error{StatusCode: 422, Message: "account closed", Definite: true}

	failed, err := env.svc.AdminApprove(context.Background(), req.ID(), "admin1")
	require.Error(t, err)
	assert.True(t, gateway.IsRejected(err))

	require.NotNil(t, failed)
	assert.Equal(t, withdrawals.StatusFailed, failed.Status())
	assert.Contains(t, failed.FailureReason(), "account closed")

	// The hold is reversed in full.
	blnc := env.balance(t, "user1")
	assert.Equal(t, int64(10000), blnc.Current())
	assert.Equal(t, int64(0), blnc.TotalWithdrawn())

	event := env.notifier.waitForEvent(t)
	assert.Equal(t, notifier.KindWithdrawalFailed, event.Kind)
}

func TestAdminApprove_UnknownOutcome(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	req := env.submit(t, "user1", 5000)

	env.gateway.processErr = &gateway.Error{StatusCode: 502, Message: "bad gateway", Definite: false}

	pending, err := env.svc.AdminApprove(context.Background(), req.ID(), "admin1")
	require.ErrorIs(t, err, ErrReconciliationPending)

	require.NotNil(t, pending)
	assert.Equal(t, withdrawals.StatusProcessing, pending.Status())

	// The hold must stay in place until reconciliation.
	blnc := env.balance(t, "user1")
	assert.Equal(t, int64(5000), blnc.Current())
	assert.Equal(t, int64(0), blnc.TotalWithdrawn())

	stored, err := env.store.GetWithdrawal(context.Background(), req.ID())
	require.NoError(t, err)
	assert.Equal(t, withdrawals.StatusProcessing, stored.Status())
}

func TestAdminApprove_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	req := env.submit(t, "user1", 5000)

	env.gateway.processResult = &gateway.TransferResult{TransferID: "tr-123"}

	_, err := env.svc.AdminApprove(context.Background(), req.ID(), "admin1")
	require.NoError(t, err)

	_, err = env.svc.AdminApprove(context.Background(), req.ID(), "admin2")
	require.ErrorIs(t, err, storage.ErrDuplicateProcessing)

	// The gateway saw exactly one transfer.
	assert.Equal(t, 1, env.gateway.processCalls)

	blnc := env.balance(t, "user1")
	assert.Equal(t, int64(5000), blnc.Current())
	assert.Equal(t, int64(5000), blnc.TotalWithdrawn())
}

func TestAdminReject(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	req := env.submit(t, "user1", 5000)

	blnc := env.balance(t, "user1")
	require.Equal(t, int64(5000), blnc.Current())

	rejected, err := env.svc.AdminReject(context.Background(), req.ID(), "admin1", "suspicious activity")
	require.NoError(t, err)

	assert.Equal(t, withdrawals.StatusRejected, rejected.Status())
	assert.Equal(t, "suspicious activity", rejected.FailureReason())

	// Balance returns to exactly the pre-submission value.
	blnc = env.balance(t, "user1")
	assert.Equal(t, int64(10000), blnc.Current())
	assert.Equal(t, int64(0), blnc.TotalWithdrawn())

	assert.Zero(t, env.gateway.processCalls)
}

func TestAdminReject_NotPending(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	req := env.submit(t, "user1", 5000)

	_, err := env.store.MarkProcessing(context.Background(), req.ID(), "admin1")
	require.NoError(t, err)

	_, err = env.svc.AdminReject(context.Background(), req.ID(), "admin2", "too late")
	require.ErrorIs(t, err, withdrawals.ErrNotPending)
}

func approveWithUnknownOutcome(t *testing.T, env *testEnv, requestID string) {
	t.Helper()

	env.gateway.processErr = &gateway.Error{StatusCode: 504, Message: "gateway timeout", Definite: false}

	_, err := env.svc.AdminApprove(context.Background(), requestID, "admin1")
	require.ErrorIs(t, err, ErrReconciliationPending)

	env.gateway.processErr = nil
}

func TestReconcile_Completed(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	req := env.submit(t, "user1", 5000)
	approveWithUnknownOutcome(t, env, req.ID())

	env.gateway.statusResult = &gateway.TransferStatusResult{
		TransferID: "tr-123",
		Status:     gateway.TransferStatusCompleted,
	}

	require.NoError(t, env.svc.Reconcile(context.Background(), req.ID()))

	stored, err := env.store.GetWithdrawal(context.Background(), req.ID())
	require.NoError(t, err)
	assert.Equal(t, withdrawals.StatusCompleted, stored.Status())
	assert.Equal(t, "tr-123", stored.TransferID())
	assert.Equal(t, "reconciler", stored.ProcessedBy())

	blnc := env.balance(t, "user1")
	assert.Equal(t, int64(5000), blnc.Current())
	assert.Equal(t, int64(5000), blnc.TotalWithdrawn())
}

func TestReconcile_Failed(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	req := env.submit(t, "user1", 5000)
	approveWithUnknownOutcome(t, env, req.ID())

	env.gateway.statusResult = &gateway.TransferStatusResult{
		TransferID: "tr-123",
		Status:     gateway.TransferStatusFailed,
		Message:    "insufficient provider float",
	}

	require.NoError(t, env.svc.Reconcile(context.Background(), req.ID()))

	stored, err := env.store.GetWithdrawal(context.Background(), req.ID())
	require.NoError(t, err)
	assert.Equal(t, withdrawals.StatusFailed, stored.Status())
	assert.Equal(t, "insufficient provider float", stored.FailureReason())

	blnc := env.balance(t, "user1")
	assert.Equal(t, int64(10000), blnc.Current())
	assert.Equal(t, int64(0), blnc.TotalWithdrawn())
}

func TestReconcile_NotRegistered(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	req := env.submit(t, "user1", 5000)
	approveWithUnknownOutcome(t, env, req.ID())

	// The provider never saw the transfer, so the reversal is safe.
	env.gateway.statusErr = &gateway.Error{StatusCode: 404, Message: "transfer not found", Definite: true}

	require.NoError(t, env.svc.Reconcile(context.Background(), req.ID()))

	stored, err := env.store.GetWithdrawal(context.Background(), req.ID())
	require.NoError(t, err)
	assert.Equal(t, withdrawals.StatusFailed, stored.Status())

	blnc := env.balance(t, "user1")
	assert.Equal(t, int64(10000), blnc.Current())
}

func TestReconcile_StillUnknown(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	req := env.submit(t, "user1", 5000)
	approveWithUnknownOutcome(t, env, req.ID())

	env.gateway.statusErr = &gateway.Error{StatusCode: 503, Message: "unavailable", Definite: false}

	err := env.svc.Reconcile(context.Background(), req.ID())
	require.Error(t, err)

	// Still PROCESSING, hold untouched; the next pass retries.
	stored, err := env.store.GetWithdrawal(context.Background(), req.ID())
	require.NoError(t, err)
	assert.Equal(t, withdrawals.StatusProcessing, stored.Status())

	blnc := env.balance(t, "user1")
	assert.Equal(t, int64(5000), blnc.Current())
}

func TestReconcile_StillPendingAtProvider(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	req := env.submit(t, "user1", 5000)
	approveWithUnknownOutcome(t, env, req.ID())

	env.gateway.statusResult = &gateway.TransferStatusResult{Status: gateway.TransferStatusPending}

	require.NoError(t, env.svc.Reconcile(context.Background(), req.ID()))

	stored, err := env.store.GetWithdrawal(context.Background(), req.ID())
	require.NoError(t, err)
	assert.Equal(t, withdrawals.StatusProcessing, stored.Status())
}

func TestReconcile_SkipsNonProcessing(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 10000)

	req := env.submit(t, "user1", 5000)

	require.NoError(t, env.svc.Reconcile(context.Background(), req.ID()))

	assert.Zero(t, env.gateway.statusCalls)
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t)

	breakdown, err := env.svc.Preview(context.Background(), 5000)
	require.NoError(t, err)

	assert.Equal(t, int64(500), breakdown.TransferFee)
	assert.Equal(t, int64(165), breakdown.TaxAmount)
	assert.Equal(t, int64(4835), breakdown.FinalAmount)
	assert.Equal(t, int64(5665), breakdown.TotalRequired)

	_, err = env.svc.Preview(context.Background(), 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedgerInvariant(t *testing.T) {
	env := newTestEnv(t)
	env.earn(t, "user1", 20000)

	first := env.submit(t, "user1", 5000)
	second := env.submit(t, "user1", 4000)

	env.gateway.processResult = &gateway.TransferResult{TransferID: "tr-1"}

	_, err := env.svc.AdminApprove(context.Background(), first.ID(), "admin1")
	require.NoError(t, err)

	_, err = env.svc.AdminReject(context.Background(), second.ID(), "admin1", "declined")
	require.NoError(t, err)

	// current == totalEarned - totalWithdrawn - sum(active holds), and no
	// holds remain active.
	blnc := env.balance(t, "user1")
	assert.Equal(t, int64(15000), blnc.Current())
	assert.Equal(t, int64(20000), blnc.TotalEarned())
	assert.Equal(t, int64(5000), blnc.TotalWithdrawn())
	assert.Equal(t, blnc.TotalEarned()-blnc.TotalWithdrawn(), blnc.Current())
}
