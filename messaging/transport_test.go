package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/fincore/creditcheck-go/contracts"
	"github.com/stretchr/testify/mock"
)

type mockTransportPublisher struct {
	mock.Mock
}

func (m *mockTransportPublisher) Publish(ctx context.Context, destination string, envelope *contracts.Envelope) error {
	args := m.Called(ctx, destination, envelope)
	return args.Error(0)
}

type mockTransportSubscriber struct {
	mock.Mock
	mu       sync.RWMutex
	handlers map[string]EnvelopeHandler
}

func newMockTransportSubscriber() *mockTransportSubscriber {
	return &mockTransportSubscriber{handlers: make(map[string]EnvelopeHandler)}
}

func (m *mockTransportSubscriber) Subscribe(ctx context.Context, source string, handler EnvelopeHandler) error {
	args := m.Called(ctx, source, handler)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.handlers[source] = handler
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *mockTransportSubscriber) Unsubscribe(source string) error {
	args := m.Called(source)
	m.mu.Lock()
	delete(m.handlers, source)
	m.mu.Unlock()
	return args.Error(0)
}

// deliver simulates the transport handing an envelope to the subscriber of source
func (m *mockTransportSubscriber) deliver(ctx context.Context, source string, envelope *contracts.Envelope) error {
	m.mu.RLock()
	handler, ok := m.handlers[source]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler for %s", source)
	}
	return handler(ctx, envelope)
}

// loopbackTransport routes published envelopes straight to the subscriber of
// the destination on a fresh goroutine, like a broker would.
type loopbackTransport struct {
	mu       sync.RWMutex
	handlers map[string]EnvelopeHandler
	errs     chan error
}

func newLoopbackTransport() *loopbackTransport {
	return &loopbackTransport{
		handlers: make(map[string]EnvelopeHandler),
		errs:     make(chan error, 64),
	}
}

func (l *loopbackTransport) Publish(ctx context.Context, destination string, envelope *contracts.Envelope) error {
	l.mu.RLock()
	handler, ok := l.handlers[destination]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no route to %s", destination)
	}

	data, err := envelope.Marshal()
	if err != nil {
		return err
	}

	go func() {
		decoded, err := contracts.UnmarshalEnvelope(data)
		if err == nil {
			err = handler(context.Background(), decoded)
		}
		if err != nil {
			l.errs <- err
		}
	}()
	return nil
}

func (l *loopbackTransport) Subscribe(ctx context.Context, source string, handler EnvelopeHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.handlers[source]; exists {
		return fmt.Errorf("already subscribed to %s", source)
	}
	l.handlers[source] = handler
	return nil
}

func (l *loopbackTransport) Unsubscribe(source string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, source)
	return nil
}
