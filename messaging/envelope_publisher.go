package messaging

import (
	"context"
	"fmt"

	"github.com/fincore/creditcheck-go/contracts"
	"github.com/fincore/creditcheck-go/internal/reliability"
)

// EnvelopePublisher encodes outbound requests as envelopes and sends them to a
// fixed request destination
type EnvelopePublisher[T any] struct {
	transport      TransportPublisher
	destination    string
	messageType    string
	circuitBreaker *reliability.CircuitBreaker
}

// EnvelopePublisherOption configures an EnvelopePublisher
type EnvelopePublisherOption func(*envelopePublisherConfig)

type envelopePublisherConfig struct {
	circuitBreaker *reliability.CircuitBreaker
}

// WithPublishCircuitBreaker guards publication with a circuit breaker.
// While the breaker is open requests fail fast instead of reaching the transport.
func WithPublishCircuitBreaker(cb *reliability.CircuitBreaker) EnvelopePublisherOption {
	return func(c *envelopePublisherConfig) {
		c.circuitBreaker = cb
	}
}

// NewEnvelopePublisher creates a RequestPublisher that sends messageType
// envelopes to destination
func NewEnvelopePublisher[T any](transport TransportPublisher, destination, messageType string, opts ...EnvelopePublisherOption) *EnvelopePublisher[T] {
	config := &envelopePublisherConfig{}
	for _, opt := range opts {
		opt(config)
	}

	return &EnvelopePublisher[T]{
		transport:      transport,
		destination:    destination,
		messageType:    messageType,
		circuitBreaker: config.circuitBreaker,
	}
}

// PublishRequest implements RequestPublisher
func (p *EnvelopePublisher[T]) PublishRequest(ctx context.Context, msg OutboundMessage[T]) error {
	envelope, err := contracts.NewEnvelope(p.messageType, msg.CorrelationID, msg.ReplyTo, msg.Payload)
	if err != nil {
		return err
	}

	publish := func() error {
		return p.transport.Publish(ctx, p.destination, envelope)
	}

	if p.circuitBreaker != nil {
		err = p.circuitBreaker.Execute(ctx, publish)
	} else {
		err = publish()
	}
	if err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", p.messageType, p.destination, err)
	}

	return nil
}
