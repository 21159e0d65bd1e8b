package messaging

import (
	"context"

	"github.com/fincore/creditcheck-go/contracts"
)

// EnvelopeHandler processes one envelope received from a transport.
// Returning an error wrapping contracts.ErrInvalidEnvelope tells the transport
// the message must not be redelivered.
type EnvelopeHandler func(ctx context.Context, envelope *contracts.Envelope) error

// TransportPublisher defines the interface for publishing envelopes through a transport
type TransportPublisher interface {
	// Publish sends an envelope to the named destination queue
	Publish(ctx context.Context, destination string, envelope *contracts.Envelope) error
}

// TransportSubscriber defines the interface for consuming envelopes through a transport
type TransportSubscriber interface {
	// Subscribe starts a long-running consumer on source that invokes handler
	// for every envelope until ctx is cancelled or Unsubscribe is called
	Subscribe(ctx context.Context, source string, handler EnvelopeHandler) error

	// Unsubscribe stops the consumer on source
	Unsubscribe(source string) error
}
