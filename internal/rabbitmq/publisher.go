package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes to the default exchange with publisher confirms.
// Messages are mandatory, so a routing key with no bound queue fails the
// publish instead of being dropped silently.
type Publisher struct {
	pool           *ChannelPool
	confirmTimeout time.Duration
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout bounds the wait for the broker confirm
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// NewPublisher creates a new publisher
func NewPublisher(pool *ChannelPool, options ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:           pool,
		confirmTimeout: 5 * time.Second,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish sends msg to queue and waits for the broker to confirm it
func (p *Publisher) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	err := p.pool.Execute(ctx, func(ch *PooledChannel) error {
		confirmCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
		defer cancel()

		confirmation, err := ch.PublishWithDeferredConfirmWithContext(confirmCtx, "", queue, true, false, msg)
		if err != nil {
			return err
		}

		acked, err := confirmation.WaitContext(confirmCtx)
		if err != nil {
			if ctx.Err() == nil {
				return ErrPublishTimeout
			}
			return err
		}
		if !acked {
			return ErrPublishNotConfirmed
		}

		select {
		case ret := <-ch.returns:
			return fmt.Errorf("%w: %d %s", ErrMandatoryFailed, ret.ReplyCode, ret.ReplyText)
		default:
			return nil
		}
	})
	if err != nil {
		return &PublishError{Queue: queue, MessageID: msg.MessageId, Err: err}
	}

	return nil
}
