package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/adwave/pointpay/internal/httpclient"
)

// Event is a user-facing notification about a settled withdrawal. Channel
// selection (SMS vs. chat app) is the dispatch service's concern.
type Event struct {
	UserID  string `json:"user_id"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

const (
	KindWithdrawalCompleted = "withdrawal_completed"
	KindWithdrawalFailed    = "withdrawal_failed"
)

// Client dispatches fire-and-forget notifications. Failures are logged and
// never propagate into settlement outcomes.
type Client struct {
	log    *slog.Logger
	client *resty.Client
}

func New(opts ...Option) *Client {
	notifier := &Client{
		log:    slog.New(&slog.JSONHandler{}),
		client: httpclient.New(),
	}

	for _, opt := range opts {
		opt(notifier)
	}

	return notifier
}

type Option func(c *Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.log = logger.With(slog.String("module", "notifier"))
	}
}

func WithClient(client *resty.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func (c *Client) Notify(ctx context.Context, event Event) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(event).
		Post("/api/notifications")
	if err != nil {
		return fmt.Errorf("client.R: %w", err)
	}

	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusAccepted {
		return fmt.Errorf("notification dispatch failed: status %d", resp.StatusCode())
	}

	return nil
}
