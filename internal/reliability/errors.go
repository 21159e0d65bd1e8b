package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownState = errors.New("circuit breaker: unknown state")
	ErrNonRetryable = errors.New("retry: error is not retryable")
)

// CircuitBreakerError is returned by Execute when the circuit rejects a call
type CircuitBreakerError struct {
	Name             string
	State            State
	Failures         int
	FailureThreshold int
	LastFailure      time.Time
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	if e.State == StateOpen {
		retryIn := time.Until(e.NextRetry).Round(time.Millisecond)
		return fmt.Sprintf("circuit breaker %s open: failures=%d/%d, retry in %v",
			e.Name, e.Failures, e.FailureThreshold, retryIn)
	}
	return fmt.Sprintf("circuit breaker %s %s: trial call limit reached", e.Name, e.State)
}
