package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/adwave/pointpay/internal/httpclient"
)

var ErrUnexpectedResponse = errors.New("verification service returned an unexpected response")

// Status is the identity collaborator's verdict on a user.
type Status struct {
	Verified       bool `json:"verified"`
	BankRegistered bool `json:"bank_registered"`
}

// Ready reports whether the user may request withdrawals.
func (s Status) Ready() bool {
	return s.Verified && s.BankRegistered
}

// Client checks identity verification and bank-account registration with
// the external identity service.
type Client struct {
	log    *slog.Logger
	client *resty.Client
}

func New(opts ...Option) *Client {
	verifier := &Client{
		log:    slog.New(&slog.JSONHandler{}),
		client: httpclient.New(),
	}

	for _, opt := range opts {
		opt(verifier)
	}

	return verifier
}

type Option func(c *Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.log = logger.With(slog.String("module", "verification"))
	}
}

func WithClient(client *resty.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func (c *Client) Verify(ctx context.Context, userID string) (Status, error) {
	status := new(Status)

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(status).
		SetPathParams(map[string]string{
			"userID": userID,
		}).
		Get("/api/users/{userID}/verification")
	if err != nil {
		return Status{}, fmt.Errorf("client.R: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return Status{}, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode())
	}

	return *status, nil
}
