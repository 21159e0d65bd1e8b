package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fincore/creditcheck-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestListenForReplies(t *testing.T) {
	ctx := context.Background()

	t.Run("subscribes to the broker reply destination", func(t *testing.T) {
		subscriber := newMockTransportSubscriber()
		subscriber.On("Subscribe", ctx, "limit.check.response", mock.Anything).Return(nil)
		broker := newTestBroker(t, &capturingPublisher{})

		require.NoError(t, ListenForReplies(ctx, subscriber, broker))
		subscriber.AssertExpectations(t)
	})

	t.Run("propagates subscribe errors", func(t *testing.T) {
		subscriber := newMockTransportSubscriber()
		subscriber.On("Subscribe", ctx, "limit.check.response", mock.Anything).Return(errors.New("queue not found"))
		broker := newTestBroker(t, &capturingPublisher{})

		assert.Error(t, ListenForReplies(ctx, subscriber, broker))
	})

	t.Run("delivered reply completes the waiting call", func(t *testing.T) {
		subscriber := newMockTransportSubscriber()
		subscriber.On("Subscribe", ctx, "limit.check.response", mock.Anything).Return(nil)
		publisher := &capturingPublisher{}
		broker := newTestBroker(t, publisher)
		require.NoError(t, ListenForReplies(ctx, subscriber, broker))

		done := make(chan limitResponse, 1)
		go func() {
			resp, err := broker.Call(ctx, limitRequest{UserID: "u-1"}, 5*time.Second)
			assert.NoError(t, err)
			done <- resp
		}()
		waitForPublish(t, publisher, 1)

		reply, err := contracts.NewEnvelope("CreditLimitCheckResponse", publisher.last().CorrelationID, "", limitResponse{UserID: "u-1", Approved: true})
		require.NoError(t, err)
		require.NoError(t, subscriber.deliver(ctx, "limit.check.response", reply))

		assert.Equal(t, limitResponse{UserID: "u-1", Approved: true}, <-done)
	})
}

func TestReplyHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects envelopes without correlation ID", func(t *testing.T) {
		metrics := &recordingMetrics{}
		handler := ReplyHandler(newTestBroker(t, &capturingPublisher{}, WithBrokerMetrics(metrics)))

		env, _ := contracts.NewEnvelope("CreditLimitCheckResponse", "", "", limitResponse{})
		err := handler(ctx, env)

		assert.ErrorIs(t, err, contracts.ErrInvalidEnvelope)
		_, late := metrics.snapshot()
		assert.Zero(t, late)
	})

	t.Run("rejects undecodable bodies", func(t *testing.T) {
		handler := ReplyHandler(newTestBroker(t, &capturingPublisher{}))

		env := &contracts.Envelope{CorrelationID: "corr-1", Body: []byte(`"not an object"`)}

		assert.ErrorIs(t, handler(ctx, env), contracts.ErrInvalidEnvelope)
	})

	t.Run("unmatched reply is acknowledged and dropped", func(t *testing.T) {
		metrics := &recordingMetrics{}
		handler := ReplyHandler(newTestBroker(t, &capturingPublisher{}, WithBrokerMetrics(metrics)))

		env, _ := contracts.NewEnvelope("CreditLimitCheckResponse", "stale", "", limitResponse{})

		assert.NoError(t, handler(ctx, env))
		_, late := metrics.snapshot()
		assert.Equal(t, 1, late)
	})
}
