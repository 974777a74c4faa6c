package errmsg

import (
	"errors"
	"net/http"
)

type HTTPError struct {
	Code    int
	Message error
}

func NewHTTPError(code int, message error) HTTPError {
	return HTTPError{Code: code, Message: message}
}

func (e *HTTPError) Error() string {
	return e.Message.Error()
}

var (
	ErrRequestPayloadEmpty = NewHTTPError(
		http.StatusBadRequest,
		errors.New("request payload is empty"),
	)

	ErrRequestPayloadInvalid = NewHTTPError(
		http.StatusBadRequest,
		errors.New("request payload is invalid"),
	)
)

var (
	ErrAmountInvalid = NewHTTPError(
		http.StatusBadRequest,
		errors.New("amount must be a positive integer"),
	)

	ErrVerificationRequired = NewHTTPError(
		http.StatusBadRequest,
		errors.New("identity verification and a registered bank account are required"),
	)

	ErrBankUnknown = NewHTTPError(
		http.StatusBadRequest,
		errors.New("unknown bank name"),
	)

	ErrUserBalanceNotFound = NewHTTPError(
		http.StatusNotFound,
		errors.New("user balance not found"),
	)
)

var (
	ErrWithdrawalNotFound = NewHTTPError(
		http.StatusNotFound,
		errors.New("withdrawal request not found"),
	)

	ErrDuplicateProcessing = NewHTTPError(
		http.StatusBadRequest,
		errors.New("withdrawal request is already being processed"),
	)

	ErrWithdrawalNotPending = NewHTTPError(
		http.StatusBadRequest,
		errors.New("withdrawal request is no longer pending"),
	)
)
