package withdrawals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBankInfo(t *testing.T) BankInfo {
	t.Helper()

	bank, err := NewBankInfo("kakao bank", "090", "3333-01-1234567", "Kim Minsu")
	require.NoError(t, err)

	return bank
}

func testBreakdown() Breakdown {
	return Breakdown{
		TransferFee:   500,
		TaxAmount:     165,
		FinalAmount:   4835,
		TotalRequired: 5665,
		Source:        SourceFallback,
	}
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("user-1", 5000, testBankInfo(t), testBreakdown(), "payout")
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID())
	assert.Equal(t, StatusPending, req.Status())
	assert.Equal(t, int64(5000), req.Amount())
	assert.Equal(t, "090", req.Bank().BankCode)
	assert.Nil(t, req.ProcessedAt())
}

func TestNewRequest_InvalidAmount(t *testing.T) {
	_, err := NewRequest("user-1", 0, testBankInfo(t), testBreakdown(), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewRequest("user-1", -5000, testBankInfo(t), testBreakdown(), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNewBankInfo_Incomplete(t *testing.T) {
	_, err := NewBankInfo("kakao bank", "090", "", "Kim Minsu")
	assert.ErrorIs(t, err, ErrBankInfoIncomplete)
}

func TestRequestLifecycle_Completed(t *testing.T) {
	req, err := NewRequest("user-1", 5000, testBankInfo(t), testBreakdown(), "")
	require.NoError(t, err)

	require.NoError(t, req.MarkProcessing("admin-1"))
	assert.Equal(t, StatusProcessing, req.Status())

	require.NoError(t, req.Complete("tr-123", "admin-1"))
	assert.Equal(t, StatusCompleted, req.Status())
	assert.Equal(t, "tr-123", req.TransferID())
	assert.Equal(t, "admin-1", req.ProcessedBy())
	require.NotNil(t, req.ProcessedAt())
	assert.True(t, req.Status().Terminal())
}

func TestRequestLifecycle_Failed(t *testing.T) {
	req, err := NewRequest("user-1", 5000, testBankInfo(t), testBreakdown(), "")
	require.NoError(t, err)

	require.NoError(t, req.MarkProcessing("admin-1"))
	require.NoError(t, req.Fail("account closed", "admin-1"))

	assert.Equal(t, StatusFailed, req.Status())
	assert.Equal(t, "account closed", req.FailureReason())
}

func TestRequestReject_OnlyWhilePending(t *testing.T) {
	req, err := NewRequest("user-1", 5000, testBankInfo(t), testBreakdown(), "")
	require.NoError(t, err)

	require.NoError(t, req.MarkProcessing("admin-1"))

	// No path back once approval started.
	assert.ErrorIs(t, req.Reject("changed mind", "admin-2"), ErrNotPending)
}

func TestRequestMarkProcessing_Once(t *testing.T) {
	req, err := NewRequest("user-1", 5000, testBankInfo(t), testBreakdown(), "")
	require.NoError(t, err)

	require.NoError(t, req.MarkProcessing("admin-1"))
	assert.ErrorIs(t, req.MarkProcessing("admin-2"), ErrNotPending)
}

func TestRequestComplete_RequiresProcessing(t *testing.T) {
	req, err := NewRequest("user-1", 5000, testBankInfo(t), testBreakdown(), "")
	require.NoError(t, err)

	assert.ErrorIs(t, req.Complete("tr-123", "admin-1"), ErrNotProcessing)
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("PROCESSING")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, status)

	_, err = ParseStatus("pending")
	assert.Error(t, err)
}

func TestParseSource(t *testing.T) {
	source, err := ParseSource("authoritative")
	require.NoError(t, err)
	assert.Equal(t, SourceAuthoritative, source)

	_, err = ParseSource("remote")
	assert.Error(t, err)
}
