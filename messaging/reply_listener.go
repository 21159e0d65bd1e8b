package messaging

import (
	"context"
	"fmt"

	"github.com/fincore/creditcheck-go/contracts"
)

// ReplyHandler decodes reply envelopes and feeds them to broker.OnResponse
func ReplyHandler[Req, Resp any](broker *RequestReplyBroker[Req, Resp]) EnvelopeHandler {
	return func(ctx context.Context, envelope *contracts.Envelope) error {
		if err := envelope.Validate(); err != nil {
			return err
		}

		payload, err := contracts.DecodeBody[Resp](envelope)
		if err != nil {
			return err
		}

		broker.OnResponse(InboundMessage[Resp]{
			CorrelationID: envelope.CorrelationID,
			Payload:       payload,
		})
		return nil
	}
}

// ListenForReplies starts the reply listener for broker on its reply destination.
// The subscription runs until ctx is cancelled or the destination is unsubscribed.
func ListenForReplies[Req, Resp any](ctx context.Context, subscriber TransportSubscriber, broker *RequestReplyBroker[Req, Resp]) error {
	if err := subscriber.Subscribe(ctx, broker.ReplyTo(), ReplyHandler(broker)); err != nil {
		return fmt.Errorf("failed to subscribe to reply queue %s: %w", broker.ReplyTo(), err)
	}
	return nil
}
