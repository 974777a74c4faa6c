package models

// BreakdownResponse mirrors the fee/tax decomposition of an amount. Source
// says whether the numbers came from the tax service or the local fallback.
type BreakdownResponse struct {
	TransferFee   int64  `json:"transfer_fee"`
	TaxAmount     int64  `json:"tax_amount"`
	FinalAmount   int64  `json:"final_amount"`
	TotalRequired int64  `json:"total_required"`
	Source        string `json:"source"`
}

type SubmitWithdrawalRequest struct {
	UserID        string `json:"user_id" validate:"required"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	BankName      string `json:"bank_name" validate:"required"`
	AccountNumber string `json:"account_number" validate:"required"`
	AccountHolder string `json:"account_holder" validate:"required"`
	Description   string `json:"description"`
}

type SubmitWithdrawalResponse struct {
	WithdrawalID string            `json:"withdrawal_id"`
	Breakdown    BreakdownResponse `json:"breakdown"`
}

type ProcessWithdrawalRequest struct {
	AdminID string `json:"admin_id" validate:"required"`
}

type ProcessWithdrawalResponse struct {
	TransferID  string            `json:"transfer_id"`
	FinalAmount int64             `json:"final_amount"`
	Breakdown   BreakdownResponse `json:"breakdown"`
}

type RejectWithdrawalRequest struct {
	AdminID string `json:"admin_id" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

type CalculateRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

type WithdrawalResponse struct {
	WithdrawalID  string            `json:"withdrawal_id"`
	UserID        string            `json:"user_id"`
	Amount        int64             `json:"amount"`
	Breakdown     BreakdownResponse `json:"breakdown"`
	BankName      string            `json:"bank_name"`
	AccountNumber string            `json:"account_number"`
	AccountHolder string            `json:"account_holder"`
	Status        string            `json:"status"`
	TransferID    string            `json:"transfer_id,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	ProcessedBy   string            `json:"processed_by,omitempty"`
	ProcessedAt   string            `json:"processed_at,omitempty"`
	CreatedAt     string            `json:"created_at"`
}

type WithdrawalListResponse struct {
	Requests []WithdrawalResponse `json:"requests"`
	Total    int                  `json:"total"`
	Page     int                  `json:"page"`
	Limit    int                  `json:"limit"`
}

type EarnRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description"`
}

type BalanceResponse struct {
	UserID         string `json:"user_id"`
	CurrentBalance int64  `json:"current_balance"`
	TotalEarned    int64  `json:"total_earned"`
	TotalWithdrawn int64  `json:"total_withdrawn"`
}

type LedgerEntryResponse struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}
