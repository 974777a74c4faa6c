package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/adwave/pointpay/internal/domain/balance"
	"github.com/adwave/pointpay/internal/domain/ledger"
	"github.com/adwave/pointpay/internal/domain/withdrawals"
	"github.com/adwave/pointpay/internal/errmsg"
	"github.com/adwave/pointpay/internal/gateway"
	"github.com/adwave/pointpay/internal/server/models"
	"github.com/adwave/pointpay/internal/settlement"
	"github.com/adwave/pointpay/internal/storage"
)

type Handlers struct {
	settler  *settlement.Service
	storage  storage.Storage
	log      *slog.Logger
	validate *validator.Validate
}

// NewHandlers returns a new Handlers instance.
func NewHandlers(settler *settlement.Service, store storage.Storage, opts ...Option) *Handlers {
	handlers := &Handlers{
		settler:  settler,
		storage:  store,
		log:      slog.New(&slog.JSONHandler{}),
		validate: validator.New(),
	}

	for _, opt := range opts {
		opt(handlers)
	}

	return handlers
}

// Option is a functional option for Handlers.
type Option func(h *Handlers)

// WithLogger is a option for Handlers that sets logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handlers) {
		h.log = logger
	}
}

type JSONResponse struct {
	Message any `json:"message,omitempty"`
	Error   any `json:"error,omitempty"`
}

func handleJSONResponse(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func handleError(w http.ResponseWriter, err errmsg.HTTPError) {
	resp := &JSONResponse{
		Error: err.Error(),
	}

	w.Header().Set("content-type", "application/json")
	w.WriteHeader(err.Code)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// decodePayload decodes and validates a JSON request payload, reporting the
// first missing or invalid field by name.
func (h *Handlers) decodePayload(r *http.Request, payload any) *errmsg.HTTPError {
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		if errors.Is(err, io.EOF) {
			return &errmsg.ErrRequestPayloadEmpty
		}

		return &errmsg.ErrRequestPayloadInvalid
	}

	if err := h.validate.Struct(payload); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) && len(vErrs) > 0 {
			httpErr := errmsg.NewHTTPError(http.StatusBadRequest,
				fmt.Errorf("field %s is missing or invalid", vErrs[0].Field()))

			return &httpErr
		}

		return &errmsg.ErrRequestPayloadInvalid
	}

	return nil
}

// mapError translates component errors into HTTP error responses.
func mapError(err error) errmsg.HTTPError {
	var insufficientErr *balance.InsufficientError
	if errors.As(err, &insufficientErr) {
		return errmsg.NewHTTPError(http.StatusBadRequest, insufficientErr)
	}

	// A definite provider rejection fails only this withdrawal; the reason
	// is surfaced to the admin.
	if gateway.IsRejected(err) {
		return errmsg.NewHTTPError(http.StatusBadRequest, err)
	}

	switch {
	case errors.Is(err, settlement.ErrInvalidAmount):
		return errmsg.ErrAmountInvalid
	case errors.Is(err, settlement.ErrVerificationRequired):
		return errmsg.ErrVerificationRequired
	case errors.Is(err, settlement.ErrUnknownBank):
		return errmsg.ErrBankUnknown
	case errors.Is(err, withdrawals.ErrBankInfoIncomplete):
		return errmsg.NewHTTPError(http.StatusBadRequest, withdrawals.ErrBankInfoIncomplete)
	case errors.Is(err, withdrawals.ErrNotPending):
		return errmsg.ErrWithdrawalNotPending
	case errors.Is(err, storage.ErrWithdrawalNotFound):
		return errmsg.ErrWithdrawalNotFound
	case errors.Is(err, storage.ErrDuplicateProcessing):
		return errmsg.ErrDuplicateProcessing
	case errors.Is(err, storage.ErrBalanceNotFound):
		return errmsg.ErrUserBalanceNotFound
	default:
		return errmsg.NewHTTPError(http.StatusInternalServerError, err)
	}
}

func breakdownResponse(b withdrawals.Breakdown) models.BreakdownResponse {
	return models.BreakdownResponse{
		TransferFee:   b.TransferFee,
		TaxAmount:     b.TaxAmount,
		FinalAmount:   b.FinalAmount,
		TotalRequired: b.TotalRequired,
		Source:        string(b.Source),
	}
}

func withdrawalResponse(req *withdrawals.Request) models.WithdrawalResponse {
	resp := models.WithdrawalResponse{
		WithdrawalID:  req.ID(),
		UserID:        req.UserID(),
		Amount:        req.Amount(),
		Breakdown:     breakdownResponse(req.Breakdown()),
		BankName:      req.Bank().BankName,
		AccountNumber: req.Bank().AccountNumber,
		AccountHolder: req.Bank().AccountHolder,
		Status:        string(req.Status()),
		TransferID:    req.TransferID(),
		FailureReason: req.FailureReason(),
		ProcessedBy:   req.ProcessedBy(),
		CreatedAt:     req.CreatedAt().Format(time.RFC3339),
	}

	if at := req.ProcessedAt(); at != nil {
		resp.ProcessedAt = at.Format(time.RFC3339)
	}

	return resp
}

func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.Ping(r.Context()); err != nil {
		h.log.Error("storage.Ping", slog.Any("error", err))
		handleError(w, errmsg.NewHTTPError(http.StatusInternalServerError, err))

		return
	}

	handleJSONResponse(w, http.StatusOK, &JSONResponse{Message: "ok"})
}

func (h *Handlers) SubmitWithdrawal(w http.ResponseWriter, r *http.Request) {
	var payload models.SubmitWithdrawalRequest

	if httpErr := h.decodePayload(r, &payload); httpErr != nil {
		h.log.Error("decodePayload", slog.Any("error", httpErr.Message))
		handleError(w, *httpErr)

		return
	}

	defer r.Body.Close()

	req, err := h.settler.Submit(r.Context(), settlement.SubmitParams{
		UserID:        payload.UserID,
		Amount:        payload.Amount,
		BankName:      payload.BankName,
		AccountNumber: payload.AccountNumber,
		AccountHolder: payload.AccountHolder,
		Description:   payload.Description,
	})
	if err != nil {
		h.log.Error("settler.Submit", slog.Any("error", err))
		handleError(w, mapError(err))

		return
	}

	handleJSONResponse(w, http.StatusOK, models.SubmitWithdrawalResponse{
		WithdrawalID: req.ID(),
		Breakdown:    breakdownResponse(req.Breakdown()),
	})
}

func (h *Handlers) ProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawalID := chi.URLParam(r, "withdrawalID")

	var payload models.ProcessWithdrawalRequest

	if httpErr := h.decodePayload(r, &payload); httpErr != nil {
		h.log.Error("decodePayload", slog.Any("error", httpErr.Message))
		handleError(w, *httpErr)

		return
	}

	defer r.Body.Close()

	req, err := h.settler.AdminApprove(r.Context(), withdrawalID, payload.AdminID)
	if err != nil {
		// Unknown gateway outcome: the request stays PROCESSING pending
		// reconciliation, which is not a failure the admin can act on.
		if errors.Is(err, settlement.ErrReconciliationPending) {
			h.log.Warn("settler.AdminApprove", slog.Any("error", err))
			handleJSONResponse(w, http.StatusAccepted, &JSONResponse{Message: err.Error()})

			return
		}

		h.log.Error("settler.AdminApprove", slog.Any("error", err))
		handleError(w, mapError(err))

		return
	}

	handleJSONResponse(w, http.StatusOK, models.ProcessWithdrawalResponse{
		TransferID:  req.TransferID(),
		FinalAmount: req.Breakdown().FinalAmount,
		Breakdown:   breakdownResponse(req.Breakdown()),
	})
}

func (h *Handlers) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawalID := chi.URLParam(r, "withdrawalID")

	var payload models.RejectWithdrawalRequest

	if httpErr := h.decodePayload(r, &payload); httpErr != nil {
		h.log.Error("decodePayload", slog.Any("error", httpErr.Message))
		handleError(w, *httpErr)

		return
	}

	defer r.Body.Close()

	req, err := h.settler.AdminReject(r.Context(), withdrawalID, payload.AdminID, payload.Reason)
	if err != nil {
		h.log.Error("settler.AdminReject", slog.Any("error", err))
		handleError(w, mapError(err))

		return
	}

	handleJSONResponse(w, http.StatusOK, withdrawalResponse(req))
}

func (h *Handlers) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	filter := storage.ListFilter{}

	if status := r.URL.Query().Get("status"); status != "" {
		st, err := withdrawals.ParseStatus(status)
		if err != nil {
			handleError(w, errmsg.NewHTTPError(http.StatusBadRequest, err))

			return
		}

		filter.Statuses = []withdrawals.Status{st}
	}

	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter = filter.Normalize()

	reqs, total, err := h.settler.List(r.Context(), filter)
	if err != nil {
		h.log.Error("settler.List", slog.Any("error", err))
		handleError(w, mapError(err))

		return
	}

	resp := models.WithdrawalListResponse{
		Requests: make([]models.WithdrawalResponse, 0, len(reqs)),
		Total:    total,
		Page:     filter.Page,
		Limit:    filter.Limit,
	}

	for _, req := range reqs {
		resp.Requests = append(resp.Requests, withdrawalResponse(req))
	}

	handleJSONResponse(w, http.StatusOK, resp)
}

func (h *Handlers) CalculateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var payload models.CalculateRequest

	if httpErr := h.decodePayload(r, &payload); httpErr != nil {
		h.log.Error("decodePayload", slog.Any("error", httpErr.Message))
		handleError(w, *httpErr)

		return
	}

	defer r.Body.Close()

	breakdown, err := h.settler.Preview(r.Context(), payload.Amount)
	if err != nil {
		h.log.Error("settler.Preview", slog.Any("error", err))
		handleError(w, mapError(err))

		return
	}

	handleJSONResponse(w, http.StatusOK, breakdownResponse(breakdown))
}

func (h *Handlers) EarnPoints(w http.ResponseWriter, r *http.Request) {
	var payload models.EarnRequest

	if httpErr := h.decodePayload(r, &payload); httpErr != nil {
		h.log.Error("decodePayload", slog.Any("error", httpErr.Message))
		handleError(w, *httpErr)

		return
	}

	defer r.Body.Close()

	entry, err := h.settler.RecordEarn(r.Context(), payload.UserID, payload.Amount, payload.Description)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			handleError(w, errmsg.ErrAmountInvalid)

			return
		}

		h.log.Error("settler.RecordEarn", slog.Any("error", err))
		handleError(w, mapError(err))

		return
	}

	handleJSONResponse(w, http.StatusOK, models.LedgerEntryResponse{
		ID:          entry.ID(),
		Amount:      entry.Amount(),
		Kind:        string(entry.Kind()),
		Status:      string(entry.Status()),
		Description: entry.Description(),
		CreatedAt:   entry.CreatedAt().Format(time.RFC3339),
	})
}

func (h *Handlers) GetUserBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	blnc, err := h.settler.Balance(r.Context(), userID)
	if err != nil {
		h.log.Error("settler.Balance", slog.Any("error", err))
		handleError(w, mapError(err))

		return
	}

	handleJSONResponse(w, http.StatusOK, models.BalanceResponse{
		UserID:         blnc.UserID(),
		CurrentBalance: blnc.Current(),
		TotalEarned:    blnc.TotalEarned(),
		TotalWithdrawn: blnc.TotalWithdrawn(),
	})
}

func (h *Handlers) GetUserLedger(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	entries, err := h.settler.History(r.Context(), userID)
	if err != nil {
		h.log.Error("settler.History", slog.Any("error", err))
		handleError(w, mapError(err))

		return
	}

	resp := make([]models.LedgerEntryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, models.LedgerEntryResponse{
			ID:          entry.ID(),
			Amount:      entry.Amount(),
			Kind:        string(entry.Kind()),
			Status:      string(entry.Status()),
			Description: entry.Description(),
			CreatedAt:   entry.CreatedAt().Format(time.RFC3339),
		})
	}

	handleJSONResponse(w, http.StatusOK, resp)
}
