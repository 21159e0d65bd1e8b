// Package cards issues credit cards once the credit limit check approves them.
package cards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fincore/creditcheck-go/creditlimit"
	"github.com/fincore/creditcheck-go/internal/reliability"
	"github.com/fincore/creditcheck-go/messaging"
)

var (
	ErrAccountNotFound     = errors.New("cards: account not found")
	ErrDuplicateCardNumber = errors.New("cards: card number already exists")
	ErrInvalidRequest      = errors.New("cards: invalid card request")
)

// Account is the part of an account the card flow needs
type Account struct {
	ID     int64 `db:"id"`
	UserID int64 `db:"user_id"`
}

// CreditCard is a persisted credit card. Expiry is YYYY-MM.
type CreditCard struct {
	ID            int64  `db:"id"`
	AccountID     int64  `db:"account_id"`
	CardNumber    string `db:"card_number"`
	Expiry        string `db:"expiry"`
	CVVLastDigits string `db:"cvv_last_digits"`
	Active        bool   `db:"active"`
	Balance       int64  `db:"balance"`
}

// CreateCreditCardRequest carries the new card's details
type CreateCreditCardRequest struct {
	CardNumber    string
	Expiry        string
	CVVLastDigits string
	Active        bool
	Balance       int64
}

func (r CreateCreditCardRequest) validate() error {
	switch {
	case r.CardNumber == "" || len(r.CardNumber) > 19:
		return fmt.Errorf("%w: card number must be 1 to 19 characters", ErrInvalidRequest)
	case len(r.Expiry) != 7 || r.Expiry[4] != '-':
		return fmt.Errorf("%w: expiry must be YYYY-MM", ErrInvalidRequest)
	case len(r.CVVLastDigits) > 2:
		return fmt.Errorf("%w: at most two cvv digits are stored", ErrInvalidRequest)
	}
	return nil
}

// LimitRejectedError is returned when the evaluator declines the card
type LimitRejectedError struct {
	UserID int64
	Reason string
}

func (e *LimitRejectedError) Error() string {
	return fmt.Sprintf("credit card limit rule violated for user %d: %s", e.UserID, e.Reason)
}

// ErrLimitRejected matches any *LimitRejectedError via errors.Is
var ErrLimitRejected = errors.New("cards: credit card limit rule violated")

func (e *LimitRejectedError) Is(target error) bool {
	return target == ErrLimitRejected
}

// AccountRepository finds accounts; unknown ids yield ErrAccountNotFound
type AccountRepository interface {
	FindAccount(ctx context.Context, accountID int64) (Account, error)
}

// CardRepository persists cards and assigns their ID
type CardRepository interface {
	SaveCreditCard(ctx context.Context, card *CreditCard) error
}

// LimitChecker is satisfied by *creditlimit.Client
type LimitChecker interface {
	CheckLimit(ctx context.Context, userID, proposedBalance int64) (creditlimit.CheckResponse, error)
}

// Service creates credit cards
type Service struct {
	accounts AccountRepository
	cards    CardRepository
	limits   LimitChecker
	policy   reliability.RetryPolicy
	logger   *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithRetryPolicy sets the policy for retrying limit checks. Only errors
// messaging.IsRetryable accepts are offered to it.
func WithRetryPolicy(policy reliability.RetryPolicy) Option {
	return func(s *Service) {
		s.policy = policy
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a card service
func NewService(accounts AccountRepository, cards CardRepository, limits LimitChecker, opts ...Option) (*Service, error) {
	if accounts == nil || cards == nil || limits == nil {
		return nil, fmt.Errorf("accounts, cards and limit checker are required")
	}

	s := &Service{
		accounts: accounts,
		cards:    cards,
		limits:   limits,
		policy:   reliability.NewExponentialBackoff(200*time.Millisecond, 2*time.Second, 2.0, 2),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateCreditCard checks the new balance against the user's credit limit
// and persists the card when approved
func (s *Service) CreateCreditCard(ctx context.Context, accountID int64, req CreateCreditCardRequest) (*CreditCard, error) {
	s.logger.Info("creating credit card", "accountId", accountID)

	if err := req.validate(); err != nil {
		return nil, err
	}

	account, err := s.accounts.FindAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.logger.Error("credit card creation failed: account not found", "accountId", accountID)
		}
		return nil, err
	}

	var decision creditlimit.CheckResponse
	err = reliability.Retry(ctx, retryOnTransient{s.policy}, func() error {
		var checkErr error
		decision, checkErr = s.limits.CheckLimit(ctx, account.UserID, req.Balance)
		return checkErr
	})
	if err != nil {
		s.logger.Error("credit limit check failed",
			"accountId", accountID,
			"userId", account.UserID,
			"error", err,
		)
		return nil, fmt.Errorf("credit limit check failed: %w", err)
	}

	if !decision.Approved {
		s.logger.Warn("credit card creation rejected by limit check", "userId", account.UserID, "reason", decision.Reason)
		return nil, &LimitRejectedError{UserID: account.UserID, Reason: decision.Reason}
	}

	card := &CreditCard{
		AccountID:     account.ID,
		CardNumber:    req.CardNumber,
		Expiry:        req.Expiry,
		CVVLastDigits: req.CVVLastDigits,
		Active:        req.Active,
		Balance:       req.Balance,
	}
	if err := s.cards.SaveCreditCard(ctx, card); err != nil {
		return nil, fmt.Errorf("failed to save credit card: %w", err)
	}

	s.logger.Info("credit card created", "cardId", card.ID, "accountId", accountID)
	return card, nil
}

// retryOnTransient retries only what the broker reports as retryable
type retryOnTransient struct {
	reliability.RetryPolicy
}

func (r retryOnTransient) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if !messaging.IsRetryable(err) {
		return false, 0
	}
	return r.RetryPolicy.ShouldRetry(attempt, err)
}
