package taxclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/adwave/pointpay/internal/httpclient"
)

var ErrUnexpectedResponse = errors.New("tax service returned an unexpected response")

// TaxType is fixed: withdrawals are treated as individual income subject to
// 3.3% withholding.
const TaxTypeIncome = "INCOME_TAX"

type Client struct {
	log    *slog.Logger
	client *resty.Client
}

func New(opts ...Option) *Client {
	taxClient := &Client{
		log:    slog.New(&slog.JSONHandler{}),
		client: httpclient.New(),
	}

	for _, opt := range opts {
		opt(taxClient)
	}

	return taxClient
}

type Option func(c *Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.log = logger
	}
}

func WithClient(client *resty.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

type taxRequest struct {
	Amount  int64   `json:"amount"`
	TaxType string  `json:"tax_type"`
	Rate    float64 `json:"rate"`
}

type TaxResult struct {
	TaxAmount   int64 `json:"tax_amount"`
	FinalAmount int64 `json:"final_amount"`
}

// CalculateTax asks the tax service for the withholding on amount.
func (c *Client) CalculateTax(ctx context.Context, amount int64, rate float64) (*TaxResult, error) {
	result := new(TaxResult)

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(taxRequest{Amount: amount, TaxType: TaxTypeIncome, Rate: rate}).
		SetResult(result).
		Post("/api/tax/calculate")
	if err != nil {
		return nil, fmt.Errorf("client.R: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode())
	}

	return result, nil
}

type checkRequest struct {
	Amount           int64 `json:"amount"`
	AvailableBalance int64 `json:"available_balance"`
}

type CheckResult struct {
	CanWithdraw   bool  `json:"can_withdraw"`
	Shortfall     int64 `json:"shortfall"`
	TransferFee   int64 `json:"transfer_fee"`
	TaxAmount     int64 `json:"tax_amount"`
	FinalAmount   int64 `json:"final_amount"`
	TotalRequired int64 `json:"total_required"`
}

// CheckWithdrawal asks the tax service for a combined fee/tax/eligibility
// verdict for amount against the available balance.
func (c *Client) CheckWithdrawal(ctx context.Context, amount, availableBalance int64) (*CheckResult, error) {
	result := new(CheckResult)

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(checkRequest{Amount: amount, AvailableBalance: availableBalance}).
		SetResult(result).
		Post("/api/tax/withdrawal-check")
	if err != nil {
		return nil, fmt.Errorf("client.R: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode())
	}

	return result, nil
}
