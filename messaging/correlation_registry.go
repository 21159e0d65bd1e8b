package messaging

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// CorrelationRegistry maps correlation IDs to pending requests.
//
// It is safe for concurrent use by any number of callers and listeners.
// Operations on distinct IDs do not contend with each other, and Complete
// never blocks on a waiting caller. For a given ID, Complete and Remove are
// mutually exclusive: whichever removes the entry first wins and the other
// observes "not found".
type CorrelationRegistry[T any] struct {
	entries sync.Map // correlationID -> *PendingRequest[T]
	size    atomic.Int64
}

// NewCorrelationRegistry creates an empty registry
func NewCorrelationRegistry[T any]() *CorrelationRegistry[T] {
	return &CorrelationRegistry[T]{}
}

// Register inserts a new empty slot for correlationID.
// A collision means the ID generator is broken and is reported as ErrDuplicateCorrelationID.
func (r *CorrelationRegistry[T]) Register(correlationID string) (*PendingRequest[T], error) {
	if correlationID == "" {
		return nil, ErrEmptyCorrelationID
	}

	pending := newPendingRequest[T](correlationID)

	r.size.Add(1)
	if _, loaded := r.entries.LoadOrStore(correlationID, pending); loaded {
		r.size.Add(-1)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCorrelationID, correlationID)
	}

	return pending, nil
}

// Complete removes the entry for correlationID and fulfils it with result.
// It returns false when no entry exists, which is how late or unknown replies
// are discarded.
func (r *CorrelationRegistry[T]) Complete(correlationID string, result T) bool {
	value, ok := r.entries.LoadAndDelete(correlationID)
	if !ok {
		return false
	}
	r.size.Add(-1)

	value.(*PendingRequest[T]).fulfil(result)
	return true
}

// Remove drops the entry for correlationID without fulfilling it
func (r *CorrelationRegistry[T]) Remove(correlationID string) bool {
	if _, ok := r.entries.LoadAndDelete(correlationID); !ok {
		return false
	}
	r.size.Add(-1)
	return true
}

// Len returns the number of outstanding entries
func (r *CorrelationRegistry[T]) Len() int {
	return int(r.size.Load())
}
