package creditlimit

import "errors"

// Envelope types on the wire
const (
	RequestType  = "CreditCardLimitCheckRequest"
	ResponseType = "CreditCardLimitCheckResponse"
)

var (
	// ErrUserNotFound is returned by a SummaryStore for unknown users
	ErrUserNotFound = errors.New("creditlimit: user not found")
	// ErrUnexpectedReply means the evaluator answered for a different user
	ErrUnexpectedReply = errors.New("creditlimit: reply does not match request")
)

// CheckRequest asks whether a new credit card with the proposed balance
// keeps the user within policy
type CheckRequest struct {
	UserID                 int64 `json:"userId"`
	ProposedNewCardBalance int64 `json:"proposedNewCardBalance"`
}

// CheckResponse is the evaluator's decision. Reason is set on rejection.
type CheckResponse struct {
	UserID   int64  `json:"userId"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// CreditSummary is what the evaluator needs to know about a user
type CreditSummary struct {
	Salary                     int64 `db:"salary"`
	ExistingCreditCardBalances int64 `db:"existing_credit_card_balances"`
}
