package creditlimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fincore/creditcheck-go/messaging"
	"github.com/fincore/creditcheck-go/transports/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	requestQueue = "credit-card.limit.check.request"
	replyQueue   = "credit-card.limit.check.response"
)

type summaryMap map[int64]CreditSummary

func (s summaryMap) CreditSummary(ctx context.Context, userID int64) (CreditSummary, error) {
	summary, ok := s[userID]
	if !ok {
		return CreditSummary{}, ErrUserNotFound
	}
	return summary, nil
}

// newLoop wires a client and an evaluator over one in-memory transport
func newLoop(t *testing.T, store SummaryStore, opts ...ClientOption) (*Client, *Broker, *memory.Transport) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	transport := memory.NewTransport()
	t.Cleanup(func() { _ = transport.Close() })

	publisher := messaging.NewEnvelopePublisher[CheckRequest](transport, requestQueue, RequestType)
	broker, err := messaging.NewRequestReplyBroker[CheckRequest, CheckResponse](publisher, replyQueue)
	require.NoError(t, err)
	require.NoError(t, messaging.ListenForReplies(ctx, transport, broker))

	if store != nil {
		evaluator, err := NewEvaluator(store)
		require.NoError(t, err)
		responder, err := NewResponder(transport, transport, requestQueue, evaluator)
		require.NoError(t, err)
		require.NoError(t, responder.Start(ctx))
	}

	client, err := NewClient(broker, opts...)
	require.NoError(t, err)
	return client, broker, transport
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	broker, err := messaging.NewRequestReplyBroker[CheckRequest, CheckResponse](
		messaging.RequestPublisherFunc[CheckRequest](func(context.Context, messaging.OutboundMessage[CheckRequest]) error { return nil }),
		replyQueue,
	)
	require.NoError(t, err)

	_, err = NewClient(broker, WithTimeout(0))
	assert.Error(t, err)

	client, err := NewClient(broker)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, client.Timeout())
}

func TestCheckLimitEndToEnd(t *testing.T) {
	store := summaryMap{
		1: {Salary: 300_000, ExistingCreditCardBalances: 100_000},
	}
	client, broker, _ := newLoop(t, store, WithTimeout(2*time.Second))
	ctx := context.Background()

	t.Run("approved", func(t *testing.T) {
		resp, err := client.CheckLimit(ctx, 1, 200_000)
		require.NoError(t, err)
		assert.True(t, resp.Approved)
		assert.Equal(t, int64(1), resp.UserID)
	})

	t.Run("rejected with reason", func(t *testing.T) {
		resp, err := client.CheckLimit(ctx, 1, 600_000)
		require.NoError(t, err)
		assert.False(t, resp.Approved)
		assert.Contains(t, resp.Reason, "would exceed limit 600000")
	})

	t.Run("unknown user", func(t *testing.T) {
		resp, err := client.CheckLimit(ctx, 42, 1)
		require.NoError(t, err)
		assert.False(t, resp.Approved)
		assert.Equal(t, ReasonUserNotFound, resp.Reason)
	})

	assert.Equal(t, 0, broker.Pending())
}

func TestCheckLimitConcurrentCallers(t *testing.T) {
	store := summaryMap{}
	for id := int64(1); id <= 20; id++ {
		store[id] = CreditSummary{Salary: id * 1000}
	}
	client, broker, _ := newLoop(t, store, WithTimeout(5*time.Second))

	var wg sync.WaitGroup
	for id := int64(1); id <= 20; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			// Even users ask for exactly their limit, odd users for one more.
			proposed := id * 2000
			if id%2 == 1 {
				proposed++
			}
			resp, err := client.CheckLimit(context.Background(), id, proposed)
			if assert.NoError(t, err) {
				assert.Equal(t, id, resp.UserID)
				assert.Equal(t, id%2 == 0, resp.Approved, "user %d", id)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 0, broker.Pending())
}

func TestCheckLimitTimesOutWithoutEvaluator(t *testing.T) {
	client, broker, transport := newLoop(t, nil, WithTimeout(50*time.Millisecond))

	_, err := client.CheckLimit(context.Background(), 1, 100)

	require.Error(t, err)
	assert.True(t, errors.Is(err, messaging.ErrTimeout))
	assert.True(t, messaging.IsRetryable(err))
	assert.Equal(t, 0, broker.Pending())
	assert.Equal(t, 1, transport.Depth(requestQueue))
}

func TestCheckLimitRejectsReplyForOtherUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := memory.NewTransport()
	defer transport.Close()

	publisher := messaging.NewEnvelopePublisher[CheckRequest](transport, requestQueue, RequestType)
	broker, err := messaging.NewRequestReplyBroker[CheckRequest, CheckResponse](publisher, replyQueue)
	require.NoError(t, err)
	require.NoError(t, messaging.ListenForReplies(ctx, transport, broker))

	wrongUser := func(ctx context.Context, req CheckRequest) (CheckResponse, error) {
		return CheckResponse{UserID: req.UserID + 1, Approved: true}, nil
	}
	responder, err := messaging.NewResponder[CheckRequest, CheckResponse](transport, transport, requestQueue, wrongUser)
	require.NoError(t, err)
	require.NoError(t, responder.Start(ctx))

	client, err := NewClient(broker, WithTimeout(time.Second))
	require.NoError(t, err)

	_, err = client.CheckLimit(ctx, 5, 1)

	assert.ErrorIs(t, err, ErrUnexpectedReply)
}
