package creditlimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fincore/creditcheck-go/messaging"
)

// DefaultTimeout bounds each check when no WithTimeout option is given
const DefaultTimeout = 5 * time.Second

// Broker is the request/reply broker specialised for limit checks
type Broker = messaging.RequestReplyBroker[CheckRequest, CheckResponse]

// Client issues limit checks through a Broker
type Client struct {
	broker  *Broker
	timeout time.Duration
	logger  *slog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithTimeout sets the per-check wait bound
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithClientLogger sets the logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client on top of broker
func NewClient(broker *Broker, opts ...ClientOption) (*Client, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}

	c := &Client{
		broker:  broker,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", c.timeout)
	}
	return c, nil
}

// CheckLimit asks the evaluator about proposedBalance for userID and waits
// for its decision. Errors come from the broker (see messaging.IsRetryable)
// or are ErrUnexpectedReply.
func (c *Client) CheckLimit(ctx context.Context, userID, proposedBalance int64) (CheckResponse, error) {
	c.logger.Debug("checking credit limit",
		"userId", userID,
		"proposedBalance", proposedBalance,
	)

	resp, err := c.broker.Call(ctx, CheckRequest{
		UserID:                 userID,
		ProposedNewCardBalance: proposedBalance,
	}, c.timeout)
	if err != nil {
		return CheckResponse{}, err
	}

	if resp.UserID != userID {
		c.logger.Error("limit check reply for wrong user",
			"userId", userID,
			"replyUserId", resp.UserID,
		)
		return CheckResponse{}, fmt.Errorf("%w: asked about user %d, got user %d", ErrUnexpectedReply, userID, resp.UserID)
	}

	c.logger.Info("credit limit checked",
		"userId", userID,
		"approved", resp.Approved,
		"reason", resp.Reason,
	)
	return resp, nil
}

// Timeout returns the per-check wait bound
func (c *Client) Timeout() time.Duration {
	return c.timeout
}
