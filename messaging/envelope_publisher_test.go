package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/fincore/creditcheck-go/contracts"
	"github.com/fincore/creditcheck-go/internal/reliability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEnvelopePublisher(t *testing.T) {
	ctx := context.Background()
	msg := OutboundMessage[limitRequest]{
		CorrelationID: "corr-1",
		ReplyTo:       "limit.check.response",
		Payload:       limitRequest{UserID: "u-1", Amount: 500},
	}

	t.Run("publishes an envelope carrying correlation and reply-to", func(t *testing.T) {
		transport := &mockTransportPublisher{}
		transport.On("Publish", ctx, "limit.check.request", mock.MatchedBy(func(env *contracts.Envelope) bool {
			body, err := contracts.DecodeBody[limitRequest](env)
			return err == nil &&
				env.Type == "CreditLimitCheckRequest" &&
				env.CorrelationID == "corr-1" &&
				env.ReplyTo == "limit.check.response" &&
				body == msg.Payload
		})).Return(nil)

		publisher := NewEnvelopePublisher[limitRequest](transport, "limit.check.request", "CreditLimitCheckRequest")

		require.NoError(t, publisher.PublishRequest(ctx, msg))
		transport.AssertExpectations(t)
	})

	t.Run("wraps transport errors", func(t *testing.T) {
		cause := errors.New("channel closed")
		transport := &mockTransportPublisher{}
		transport.On("Publish", ctx, "limit.check.request", mock.Anything).Return(cause)

		publisher := NewEnvelopePublisher[limitRequest](transport, "limit.check.request", "CreditLimitCheckRequest")

		err := publisher.PublishRequest(ctx, msg)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("open circuit fails fast without touching the transport", func(t *testing.T) {
		cause := errors.New("channel closed")
		transport := &mockTransportPublisher{}
		transport.On("Publish", ctx, "limit.check.request", mock.Anything).Return(cause).Once()

		cb := reliability.NewCircuitBreaker(reliability.WithFailureThreshold(1))
		publisher := NewEnvelopePublisher[limitRequest](transport, "limit.check.request", "CreditLimitCheckRequest",
			WithPublishCircuitBreaker(cb),
		)

		assert.ErrorIs(t, publisher.PublishRequest(ctx, msg), cause)

		var cbErr *reliability.CircuitBreakerError
		assert.ErrorAs(t, publisher.PublishRequest(ctx, msg), &cbErr)
		transport.AssertNumberOfCalls(t, "Publish", 1)
	})
}
