// Package memory is an in-process transport with queue semantics close to
// the AMQP one: messages wait in a per-queue buffer until a consumer takes
// them, each message goes to one consumer, and a failed delivery is
// redelivered once unless the envelope is malformed.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fincore/creditcheck-go/contracts"
	"github.com/fincore/creditcheck-go/messaging"
)

var (
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("memory: transport closed")
	// ErrAlreadySubscribed is returned when a queue already has a consumer
	ErrAlreadySubscribed = errors.New("memory: queue already has a consumer")
)

type delivery struct {
	data        []byte
	redelivered bool
}

type queue struct {
	messages chan delivery
}

type consumer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Transport is a channel-backed implementation of messaging.TransportPublisher
// and messaging.TransportSubscriber
type Transport struct {
	capacity int
	logger   *slog.Logger

	mu        sync.Mutex
	queues    map[string]*queue
	consumers map[string]*consumer
	closed    bool
}

// Option configures the transport
type Option func(*Transport)

// WithCapacity sets the per-queue buffer size
func WithCapacity(capacity int) Option {
	return func(t *Transport) {
		t.capacity = capacity
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates an empty transport
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		capacity:  256,
		logger:    slog.Default(),
		queues:    make(map[string]*queue),
		consumers: make(map[string]*consumer),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Publish serialises the envelope onto destination, blocking while the
// queue buffer is full
func (t *Transport) Publish(ctx context.Context, destination string, envelope *contracts.Envelope) error {
	data, err := envelope.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	q, err := t.queue(destination)
	if err != nil {
		return err
	}

	select {
	case q.messages <- delivery{data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe starts the single consumer of source
func (t *Transport) Subscribe(ctx context.Context, source string, handler messaging.EnvelopeHandler) error {
	q, err := t.queue(source)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if _, exists := t.consumers[source]; exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, source)
	}
	consumeCtx, cancel := context.WithCancel(ctx)
	c := &consumer{cancel: cancel, done: make(chan struct{})}
	t.consumers[source] = c
	t.mu.Unlock()

	go t.consume(consumeCtx, source, q, c, handler)
	return nil
}

// Unsubscribe stops the consumer of source. Buffered messages stay queued.
func (t *Transport) Unsubscribe(source string) error {
	t.mu.Lock()
	c, ok := t.consumers[source]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active consumer for queue: %s", source)
	}

	c.cancel()
	<-c.done
	return nil
}

// Depth returns the number of messages waiting in queue
func (t *Transport) Depth(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q, ok := t.queues[name]; ok {
		return len(q.messages)
	}
	return 0
}

// IsConnected reports false once the transport is closed
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Close stops all consumers; later operations fail with ErrClosed
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	consumers := make([]*consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, c := range consumers {
		c.cancel()
		<-c.done
	}
	return nil
}

func (t *Transport) queue(name string) (*queue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	q, ok := t.queues[name]
	if !ok {
		q = &queue{messages: make(chan delivery, t.capacity)}
		t.queues[name] = q
	}
	return q, nil
}

func (t *Transport) consume(ctx context.Context, name string, q *queue, c *consumer, handler messaging.EnvelopeHandler) {
	defer func() {
		t.mu.Lock()
		delete(t.consumers, name)
		t.mu.Unlock()
		close(c.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-q.messages:
			t.dispatch(ctx, name, q, d, handler)
		}
	}
}

func (t *Transport) dispatch(ctx context.Context, name string, q *queue, d delivery, handler messaging.EnvelopeHandler) {
	envelope, err := contracts.UnmarshalEnvelope(d.data)
	if err == nil {
		err = handler(ctx, envelope)
	}
	if err == nil {
		return
	}

	requeue := !d.redelivered && !errors.Is(err, contracts.ErrInvalidEnvelope)
	t.logger.Error("failed to handle message",
		"queue", name,
		"requeue", requeue,
		"error", err,
	)

	if requeue {
		select {
		case q.messages <- delivery{data: d.data, redelivered: true}:
		default:
			t.logger.Warn("queue full, dropping redelivery", "queue", name)
		}
	}
}

var (
	_ messaging.TransportPublisher  = (*Transport)(nil)
	_ messaging.TransportSubscriber = (*Transport)(nil)
)
