package creditlimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fincore/creditcheck-go/messaging"
)

// DefaultMaxCreditToSalaryRatio caps total credit card balances at twice the salary
const DefaultMaxCreditToSalaryRatio = 2.0

// Rejection reasons
const (
	ReasonInvalidUser         = "invalid user id"
	ReasonNegativeBalance     = "proposed balance cannot be negative"
	ReasonUserNotFound        = "user not found"
	ReasonSummaryUnavailable  = "credit summary unavailable"
	ReasonLimitExceededFormat = "total credit card balances %d would exceed limit %d"
)

// SummaryStore loads the credit summary of a user. Unknown users yield
// ErrUserNotFound.
type SummaryStore interface {
	CreditSummary(ctx context.Context, userID int64) (CreditSummary, error)
}

// DecisionRecorder observes evaluator decisions
type DecisionRecorder interface {
	RecordDecision(approved bool)
}

// Evaluator decides limit checks against a SummaryStore
type Evaluator struct {
	store    SummaryStore
	ratio    float64
	logger   *slog.Logger
	recorder DecisionRecorder
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithMaxCreditToSalaryRatio sets the policy ratio
func WithMaxCreditToSalaryRatio(ratio float64) EvaluatorOption {
	return func(e *Evaluator) {
		e.ratio = ratio
	}
}

// WithEvaluatorLogger sets the logger
func WithEvaluatorLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithDecisionRecorder sets the decision recorder
func WithDecisionRecorder(recorder DecisionRecorder) EvaluatorOption {
	return func(e *Evaluator) {
		e.recorder = recorder
	}
}

// NewEvaluator creates an evaluator reading from store
func NewEvaluator(store SummaryStore, opts ...EvaluatorOption) (*Evaluator, error) {
	if store == nil {
		return nil, fmt.Errorf("summary store cannot be nil")
	}

	e := &Evaluator{
		store:  store,
		ratio:  DefaultMaxCreditToSalaryRatio,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.ratio <= 0 {
		return nil, fmt.Errorf("credit to salary ratio must be positive, got %g", e.ratio)
	}
	return e, nil
}

// Limit returns the maximum total credit card balance for salary
func (e *Evaluator) Limit(salary int64) int64 {
	return int64(float64(salary) * e.ratio)
}

// Evaluate decides one request. It never returns an error: a summary that
// cannot be loaded is a rejection, so the caller always gets a reply.
func (e *Evaluator) Evaluate(ctx context.Context, req CheckRequest) (CheckResponse, error) {
	resp := e.decide(ctx, req)
	if e.recorder != nil {
		e.recorder.RecordDecision(resp.Approved)
	}
	return resp, nil
}

func (e *Evaluator) decide(ctx context.Context, req CheckRequest) CheckResponse {
	reject := func(reason string) CheckResponse {
		e.logger.Info("credit limit rejected", "userId", req.UserID, "reason", reason)
		return CheckResponse{UserID: req.UserID, Approved: false, Reason: reason}
	}

	if req.UserID <= 0 {
		return reject(ReasonInvalidUser)
	}
	if req.ProposedNewCardBalance < 0 {
		return reject(ReasonNegativeBalance)
	}

	summary, err := e.store.CreditSummary(ctx, req.UserID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return reject(ReasonUserNotFound)
	case err != nil:
		e.logger.Error("failed to load credit summary", "userId", req.UserID, "error", err)
		return reject(ReasonSummaryUnavailable)
	}

	total := summary.ExistingCreditCardBalances + req.ProposedNewCardBalance
	limit := e.Limit(summary.Salary)
	if total > limit {
		return reject(fmt.Sprintf(ReasonLimitExceededFormat, total, limit))
	}

	e.logger.Info("credit limit approved", "userId", req.UserID, "total", total, "limit", limit)
	return CheckResponse{UserID: req.UserID, Approved: true}
}

// NewResponder serves limit checks from queue with evaluator
func NewResponder(subscriber messaging.TransportSubscriber, publisher messaging.TransportPublisher, queue string, evaluator *Evaluator, opts ...messaging.ResponderOption) (*messaging.Responder[CheckRequest, CheckResponse], error) {
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator cannot be nil")
	}
	opts = append([]messaging.ResponderOption{messaging.WithReplyType(ResponseType)}, opts...)
	return messaging.NewResponder[CheckRequest, CheckResponse](subscriber, publisher, queue, evaluator.Evaluate, opts...)
}
