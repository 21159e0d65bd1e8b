package messaging

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Request/reply errors
	ErrPublishFailed          = errors.New("messaging: publish failed")
	ErrTimeout                = errors.New("messaging: request timed out")
	ErrCancelled              = errors.New("messaging: request cancelled")
	ErrDuplicateCorrelationID = errors.New("messaging: duplicate correlation ID")
	ErrEmptyCorrelationID     = errors.New("messaging: empty correlation ID")
	ErrInvalidTimeout         = errors.New("messaging: timeout must be positive")

	// Responder errors
	ErrNoReplyDestination = errors.New("messaging: request has no reply destination")
)

// RequestError describes a failed request/reply round-trip
type RequestError struct {
	Op            string        // register, publish or await
	CorrelationID string        // empty when no id was minted
	Timeout       time.Duration // caller-supplied wait bound
	Err           error         // wraps one of the sentinels above
}

func (e *RequestError) Error() string {
	if e.CorrelationID == "" {
		return fmt.Sprintf("request %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("request %s failed for correlation ID %s (timeout %v): %v",
		e.Op, e.CorrelationID, e.Timeout, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller may reasonably issue the request again.
// Timeouts and publish failures are; id collisions, cancellations and bad
// arguments are not.
func (e *RequestError) IsRetryable() bool {
	return errors.Is(e.Err, ErrTimeout) || errors.Is(e.Err, ErrPublishFailed)
}

// IsRetryable classifies any error returned by RequestReplyBroker.Call
func IsRetryable(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.IsRetryable()
	}
	return false
}
