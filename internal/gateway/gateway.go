package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/adwave/pointpay/internal/httpclient"
)

// TransferStatus values reported by the provider.
const (
	TransferStatusCompleted = "COMPLETED"
	TransferStatusFailed    = "FAILED"
	TransferStatusPending   = "PENDING"
)

// Error is a classified gateway failure. Definite means the provider
// explicitly rejected the transfer and no money moved; the hold may be
// reversed. A non-definite error (timeout, 5xx, transport) leaves the
// outcome unknown and must go through reconciliation, never a reversal.
type Error struct {
	StatusCode int
	Message    string
	Definite   bool
}

func (e *Error) Error() string {
	if e.Definite {
		return fmt.Sprintf("transfer rejected by provider: %s", e.Message)
	}

	return fmt.Sprintf("transfer outcome unknown: %s", e.Message)
}

// IsRejected reports whether err is a definite provider rejection.
func IsRejected(err error) bool {
	var gwErr *Error

	return errors.As(err, &gwErr) && gwErr.Definite
}

// IsUnknown reports whether err left the transfer outcome unknown.
func IsUnknown(err error) bool {
	var gwErr *Error

	return errors.As(err, &gwErr) && !gwErr.Definite
}

var transferNamespace = uuid.MustParse("6f1c24f5-29d0-4b8e-9a6e-58a8f3f1de20")

// IdempotencyKey derives a stable provider-side key from a withdrawal
// request id, so a retried call after a client-side timeout cannot create
// two distinct transfers.
func IdempotencyKey(withdrawalID string) string {
	return uuid.NewSHA1(transferNamespace, []byte(withdrawalID)).String()
}

type TransferRequest struct {
	IdempotencyKey string `json:"-"`
	BankCode       string `json:"bank_code"`
	AccountNumber  string `json:"account_number"`
	AccountHolder  string `json:"account_holder"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
}

type TransferResult struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	Fee        int64  `json:"fee"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client wraps the external bank-transfer provider.
type Client struct {
	log    *slog.Logger
	client *resty.Client
}

func New(opts ...Option) *Client {
	gw := &Client{
		log: slog.New(&slog.JSONHandler{}),
		// The transfer call must not be auto-retried without the caller
		// supplying the idempotency key, so retries are disabled here.
		client: httpclient.New(httpclient.WithRetryCount(0)),
	}

	for _, opt := range opts {
		opt(gw)
	}

	return gw
}

type Option func(c *Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.log = logger.With(slog.String("module", "gateway"))
	}
}

func WithClient(client *resty.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithAPIKey(apiKey string) Option {
	return func(c *Client) {
		c.client.SetHeader("Authorization", "Bearer "+apiKey)
	}
}

// ProcessWithdrawal initiates a bank transfer. The outcome is three-way:
// a TransferResult, a definite rejection, or an unknown outcome.
func (c *Client) ProcessWithdrawal(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	result := new(TransferResult)
	errResp := new(errorResponse)

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetBody(req).
		SetResult(result).
		SetError(errResp).
		Post("/api/transfers")
	if err != nil {
		return nil, &Error{Message: err.Error(), Definite: false}
	}

	switch {
	case resp.StatusCode() == http.StatusOK || resp.StatusCode() == http.StatusCreated:
		return result, nil

	case resp.StatusCode() >= http.StatusBadRequest && resp.StatusCode() < http.StatusInternalServerError:
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status()
		}

		return nil, &Error{StatusCode: resp.StatusCode(), Message: msg, Definite: true}

	default:
		return nil, &Error{StatusCode: resp.StatusCode(), Message: resp.Status(), Definite: false}
	}
}

type TransferStatusResult struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// GetWithdrawalStatus queries the terminal status of a transfer for
// reconciliation. The reference is either a provider transfer id or the
// idempotency key the transfer was initiated with. A 404 is definite: the
// provider never registered the transfer.
func (c *Client) GetWithdrawalStatus(ctx context.Context, ref string) (*TransferStatusResult, error) {
	result := new(TransferStatusResult)

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(result).
		SetPathParams(map[string]string{
			"ref": ref,
		}).
		Get("/api/transfers/{ref}")
	if err != nil {
		return nil, &Error{Message: err.Error(), Definite: false}
	}

	switch {
	case resp.StatusCode() == http.StatusOK:
		return result, nil

	case resp.StatusCode() == http.StatusNotFound:
		return nil, &Error{StatusCode: resp.StatusCode(), Message: "transfer not found", Definite: true}

	default:
		return nil, &Error{StatusCode: resp.StatusCode(), Message: resp.Status(), Definite: false}
	}
}
