package messaging

import (
	"sync"
	"time"
)

// PendingRequest is the single-assignment slot a caller waits on while its
// request is outstanding. It is fulfilled at most once.
type PendingRequest[T any] struct {
	CorrelationID string
	CreatedAt     time.Time

	done   chan struct{}
	once   sync.Once
	result T
}

func newPendingRequest[T any](correlationID string) *PendingRequest[T] {
	return &PendingRequest[T]{
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
		done:          make(chan struct{}),
	}
}

// Done returns a channel that is closed once the result is available
func (p *PendingRequest[T]) Done() <-chan struct{} {
	return p.done
}

// Result returns the delivered result without blocking.
// The boolean is false while the request is still pending.
func (p *PendingRequest[T]) Result() (T, bool) {
	select {
	case <-p.done:
		return p.result, true
	default:
		var zero T
		return zero, false
	}
}

// fulfil stores result and wakes the waiter. Later calls are ignored.
func (p *PendingRequest[T]) fulfil(result T) bool {
	fulfilled := false
	p.once.Do(func() {
		p.result = result
		close(p.done)
		fulfilled = true
	})
	return fulfilled
}
