// Package reliability provides the circuit breaker guarding request
// publication and the retry policies used around limit checks.
//
//	cb := reliability.NewCircuitBreaker(
//	    reliability.WithName("limit-check-publish"),
//	    reliability.WithFailureThreshold(5),
//	    reliability.WithTimeout(30*time.Second),
//	)
//	err := cb.Execute(ctx, publish)
//
// Retry consults IsRetryableError, so errors exposing IsRetryable() control
// whether another attempt is made:
//
//	err := reliability.Retry(ctx, reliability.NewFixedDelay(200*time.Millisecond, 2), call)
package reliability
