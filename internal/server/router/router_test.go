package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adwave/pointpay/internal/auth"
	"github.com/adwave/pointpay/internal/domain/withdrawals"
	"github.com/adwave/pointpay/internal/feecalc"
	"github.com/adwave/pointpay/internal/gateway"
	"github.com/adwave/pointpay/internal/server/models"
	"github.com/adwave/pointpay/internal/settlement"
	"github.com/adwave/pointpay/internal/storage/inmemory"
	"github.com/adwave/pointpay/internal/verification"
)

var testSecret = []byte("test-secret")

type stubGateway struct {
	processResult *gateway.TransferResult
	processErr    error
}

func (g *stubGateway) ProcessWithdrawal(_ context.Context, _ gateway.TransferRequest) (*gateway.TransferResult, error) {
	if g.processErr != nil {
		return nil, g.processErr
	}

	return g.processResult, nil
}

func (g *stubGateway) GetWithdrawalStatus(_ context.Context, _ string) (*gateway.TransferStatusResult, error) {
	return nil, &gateway.Error{StatusCode: 503, Message: "unavailable", Definite: false}
}

type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, _ string) (verification.Status, error) {
	return verification.Status{Verified: true, BankRegistered: true}, nil
}

type testServer struct {
	srv     *httptest.Server
	store   *inmemory.Storage
	gateway *stubGateway
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := inmemory.NewStorage()
	gw := &stubGateway{}

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	settler := settlement.New(store, feecalc.New(), gw, stubVerifier{},
		settlement.WithLogger(discard),
	)

	srv := httptest.NewServer(NewRouter(settler, store,
		WithLogger(discard),
		WithSecret(testSecret),
	))
	t.Cleanup(srv.Close)

	token, err := auth.NewJWTAuth(testSecret).CreateAdminJWTString("admin1")
	require.NoError(t, err)

	return &testServer{srv: srv, store: store, gateway: gw, token: token}
}

func (ts *testServer) do(t *testing.T, method, path, token string, payload any) *http.Response {
	t.Helper()

	var body io.Reader

	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)

		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, body)
	require.NoError(t, err)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func (ts *testServer) earn(t *testing.T, userID string, amount int64) {
	t.Helper()

	_, err := ts.store.RecordEarn(context.Background(), userID, amount, "campaign reward")
	require.NoError(t, err)
}

func (ts *testServer) submit(t *testing.T, userID string, amount int64) string {
	t.Helper()

	resp := ts.do(t, http.MethodPost, "/api/withdrawal/request", "", models.SubmitWithdrawalRequest{
		UserID:        userID,
		Amount:        amount,
		BankName:      "Kakao Bank",
		AccountNumber: "3333-01-1234567",
		AccountHolder: "Kim Minsu",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.SubmitWithdrawalResponse

	decodeBody(t, resp, &result)

	return result.WithdrawalID
}

func TestSubmitWithdrawal(t *testing.T) {
	ts := newTestServer(t)
	ts.earn(t, "user1", 10000)

	resp := ts.do(t, http.MethodPost, "/api/withdrawal/request", "", models.SubmitWithdrawalRequest{
		UserID:        "user1",
		Amount:        5000,
		BankName:      "Kakao Bank",
		AccountNumber: "3333-01-1234567",
		AccountHolder: "Kim Minsu",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.SubmitWithdrawalResponse

	decodeBody(t, resp, &result)

	assert.NotEmpty(t, result.WithdrawalID)
	assert.Equal(t, int64(500), result.Breakdown.TransferFee)
	assert.Equal(t, int64(165), result.Breakdown.TaxAmount)
	assert.Equal(t, int64(4835), result.Breakdown.FinalAmount)
	assert.Equal(t, int64(5665), result.Breakdown.TotalRequired)
	assert.Equal(t, "fallback", result.Breakdown.Source)
}

func TestSubmitWithdrawal_InsufficientBalance(t *testing.T) {
	ts := newTestServer(t)
	ts.earn(t, "user1", 3000)

	resp := ts.do(t, http.MethodPost, "/api/withdrawal/request", "", models.SubmitWithdrawalRequest{
		UserID:        "user1",
		Amount:        5000,
		BankName:      "Kakao Bank",
		AccountNumber: "3333-01-1234567",
		AccountHolder: "Kim Minsu",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var result map[string]string

	decodeBody(t, resp, &result)
	assert.Contains(t, result["error"], "insufficient balance")
	assert.Contains(t, result["error"], "2665")
}

func TestSubmitWithdrawal_MissingField(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/withdrawal/request", "", map[string]any{
		"user_id": "user1",
		"amount":  5000,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var result map[string]string

	decodeBody(t, resp, &result)
	assert.Contains(t, result["error"], "BankName")
}

func TestSubmitWithdrawal_EmptyPayload(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/withdrawal/request", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCalculateWithdrawal(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/withdrawal/calculate", "", models.CalculateRequest{Amount: 5000})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.BreakdownResponse

	decodeBody(t, resp, &result)

	assert.Equal(t, int64(500), result.TransferFee)
	assert.Equal(t, int64(165), result.TaxAmount)
	assert.Equal(t, int64(4835), result.FinalAmount)
	assert.Equal(t, int64(5665), result.TotalRequired)
}

func TestEarnAndBalance(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/points/earn", "", models.EarnRequest{
		UserID:      "user1",
		Amount:      10000,
		Description: "signup bonus",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entry models.LedgerEntryResponse

	decodeBody(t, resp, &entry)
	assert.Equal(t, "earned", entry.Kind)
	assert.Equal(t, int64(10000), entry.Amount)

	resp = ts.do(t, http.MethodGet, "/api/users/user1/balance", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var blnc models.BalanceResponse

	decodeBody(t, resp, &blnc)
	assert.Equal(t, int64(10000), blnc.CurrentBalance)
	assert.Equal(t, int64(10000), blnc.TotalEarned)
}

func TestGetUserBalance_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/users/ghost/balance", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetUserLedger(t *testing.T) {
	ts := newTestServer(t)
	ts.earn(t, "user1", 10000)
	ts.submit(t, "user1", 5000)

	resp := ts.do(t, http.MethodGet, "/api/users/user1/ledger", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []models.LedgerEntryResponse

	decodeBody(t, resp, &entries)
	require.Len(t, entries, 2)

	// Newest first: the pending hold precedes the earn credit.
	assert.Equal(t, "withdrawn", entries[0].Kind)
	assert.Equal(t, "pending", entries[0].Status)
	assert.Equal(t, int64(-5000), entries[0].Amount)
}

func TestAdminEndpoints_RequireToken(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/withdrawal/process/wd-1", "", models.ProcessWithdrawalRequest{AdminID: "admin1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/withdrawal/requests", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/withdrawal/requests", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProcessWithdrawal(t *testing.T) {
	ts := newTestServer(t)
	ts.earn(t, "user1", 10000)

	id := ts.submit(t, "user1", 5000)

	ts.gateway.processResult = &gateway.TransferResult{TransferID: "tr-123"}

	resp := ts.do(t, http.MethodPost, "/api/withdrawal/process/"+id, ts.token,
		models.ProcessWithdrawalRequest{AdminID: "admin1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.ProcessWithdrawalResponse

	decodeBody(t, resp, &result)
	assert.Equal(t, "tr-123", result.TransferID)
	assert.Equal(t, int64(4835), result.FinalAmount)

	stored, err := ts.store.GetWithdrawal(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, withdrawals.StatusCompleted, stored.Status())
}

func TestProcessWithdrawal_UnknownOutcomeAccepted(t *testing.T) {
	ts := newTestServer(t)
	ts.earn(t, "user1", 10000)

	id := ts.submit(t, "user1", 5000)

	ts.gateway.processErr = &gateway.Error{StatusCode: 504, Message: "gateway timeout", Definite: false}

	resp := ts.do(t, http.MethodPost, "/api/withdrawal/process/"+id, ts.token,
		models.ProcessWithdrawalRequest{AdminID: "admin1"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	stored, err := ts.store.GetWithdrawal(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, withdrawals.StatusProcessing, stored.Status())
}

func TestProcessWithdrawal_ProviderRejection(t *testing.T) {
	ts := newTestServer(t)
	ts.earn(t, "user1", 10000)

	id := ts.submit(t, "user1", 5000)

	ts.gateway.processErr = &gateway.Error{StatusCode: 422, Message: "account closed", Definite: true}

	resp := ts.do(t, http.MethodPost, "/api/withdrawal/process/"+id, ts.token,
		models.ProcessWithdrawalRequest{AdminID: "admin1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var result map[string]string

	decodeBody(t, resp, &result)
	assert.Contains(t, result["error"], "account closed")
}

func TestProcessWithdrawal_Duplicate(t *testing.T) {
	ts := newTestServer(t)
	ts.earn(t, "user1", 10000)

	id := ts.submit(t, "user1", 5000)

	ts.gateway.processResult = &gateway.TransferResult{TransferID: "tr-123"}

	resp := ts.do(t, http.MethodPost, "/api/withdrawal/process/"+id, ts.token,
		models.ProcessWithdrawalRequest{AdminID: "admin1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/withdrawal/process/"+id, ts.token,
		models.ProcessWithdrawalRequest{AdminID: "admin2"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRejectWithdrawal(t *testing.T) {
	ts := newTestServer(t)
	ts.earn(t, "user1", 10000)

	id := ts.submit(t, "user1", 5000)

	resp := ts.do(t, http.MethodPost, "/api/withdrawal/reject/"+id, ts.token,
		models.RejectWithdrawalRequest{AdminID: "admin1", Reason: "suspicious activity"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.WithdrawalResponse

	decodeBody(t, resp, &result)
	assert.Equal(t, "REJECTED", result.Status)
	assert.Equal(t, "suspicious activity", result.FailureReason)

	blnc, err := ts.store.GetBalance(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), blnc.Current())
}

func TestListWithdrawals(t *testing.T) {
	ts := newTestServer(t)
	ts.earn(t, "user1", 30000)

	ts.submit(t, "user1", 5000)
	ts.submit(t, "user1", 6000)
	rejectedID := ts.submit(t, "user1", 7000)

	resp := ts.do(t, http.MethodPost, "/api/withdrawal/reject/"+rejectedID, ts.token,
		models.RejectWithdrawalRequest{AdminID: "admin1", Reason: "declined"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/withdrawal/requests", ts.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var all models.WithdrawalListResponse

	decodeBody(t, resp, &all)
	assert.Equal(t, 3, all.Total)
	assert.Len(t, all.Requests, 3)
	assert.Equal(t, 1, all.Page)

	resp = ts.do(t, http.MethodGet, "/api/withdrawal/requests?status=PENDING", ts.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pending models.WithdrawalListResponse

	decodeBody(t, resp, &pending)
	assert.Equal(t, 2, pending.Total)

	resp = ts.do(t, http.MethodGet, "/api/withdrawal/requests?status=BOGUS", ts.token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
