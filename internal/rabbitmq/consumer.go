package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryHandler processes one delivery. The consumer acks on nil and nacks otherwise.
type DeliveryHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer runs one consuming goroutine per subscribed queue
type Consumer struct {
	pool           *ChannelPool
	prefetchCount  int
	handlerTimeout time.Duration
	requeue        func(err error) bool
	logger         *slog.Logger

	active sync.Map // queue -> *subscription
}

type subscription struct {
	queue  string
	tag    string
	cancel context.CancelFunc
	done   chan struct{}
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the channel QoS prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithHandlerTimeout bounds the context passed to each handler invocation
func WithHandlerTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.handlerTimeout = timeout
	}
}

// WithRequeuePolicy decides whether a failed delivery goes back on the queue.
// Redelivered messages are never requeued a second time.
func WithRequeuePolicy(requeue func(err error) bool) ConsumerOption {
	return func(c *Consumer) {
		c.requeue = requeue
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a new consumer
func NewConsumer(pool *ChannelPool, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		pool:           pool,
		prefetchCount:  10,
		handlerTimeout: 30 * time.Second,
		requeue:        func(error) bool { return true },
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Subscribe starts consuming queue until ctx is cancelled or Unsubscribe is called
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler DeliveryHandler) error {
	if _, exists := c.active.Load(queue); exists {
		return &ConsumerError{Queue: queue, Op: "subscribe", Err: ErrAlreadySubscribed}
	}

	ch, err := c.pool.Get(ctx)
	if err != nil {
		return &ConsumerError{Queue: queue, Op: "subscribe", Err: err}
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		c.pool.Put(ch)
		return &ConsumerError{Queue: queue, Op: "qos", Err: err}
	}

	tag := "creditcheck-" + ch.ID()
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		c.pool.Put(ch)
		return &ConsumerError{Queue: queue, ConsumerTag: tag, Op: "consume", Err: err}
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{queue: queue, tag: tag, cancel: cancel, done: make(chan struct{})}

	if _, loaded := c.active.LoadOrStore(queue, sub); loaded {
		cancel()
		ch.Cancel(tag, false)
		c.pool.Put(ch)
		return &ConsumerError{Queue: queue, Op: "subscribe", Err: ErrAlreadySubscribed}
	}

	go c.consume(consumeCtx, ch, sub, deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", tag,
		"prefetchCount", c.prefetchCount,
	)
	return nil
}

// Unsubscribe stops the consumer on queue and waits for the in-flight delivery
func (c *Consumer) Unsubscribe(queue string) error {
	value, ok := c.active.Load(queue)
	if !ok {
		return fmt.Errorf("no active consumer for queue: %s", queue)
	}

	sub := value.(*subscription)
	sub.cancel()
	<-sub.done
	return nil
}

// UnsubscribeAll stops every active consumer
func (c *Consumer) UnsubscribeAll() {
	c.active.Range(func(key, _ interface{}) bool {
		if err := c.Unsubscribe(key.(string)); err != nil {
			c.logger.Warn("failed to unsubscribe", "queue", key, "error", err)
		}
		return true
	})
}

// ActiveQueues lists the queues currently consumed
func (c *Consumer) ActiveQueues() []string {
	var queues []string
	c.active.Range(func(key, _ interface{}) bool {
		queues = append(queues, key.(string))
		return true
	})
	return queues
}

func (c *Consumer) consume(ctx context.Context, ch *PooledChannel, sub *subscription, deliveries <-chan amqp.Delivery, handler DeliveryHandler) {
	defer func() {
		ch.Cancel(sub.tag, false)
		c.pool.Put(ch)
		c.active.CompareAndDelete(sub.queue, sub)
		close(sub.done)
		c.logger.Info("consumer stopped", "queue", sub.queue)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", sub.queue)
				return
			}
			c.dispatch(ctx, sub.queue, delivery, handler)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, queue string, delivery amqp.Delivery, handler DeliveryHandler) {
	handlerCtx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
	defer cancel()

	err := handler(handlerCtx, delivery)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "queue", queue, "error", ackErr)
		}
		return
	}

	requeue := !delivery.Redelivered && c.requeue(err)
	c.logger.Error("failed to handle message",
		"queue", queue,
		"messageId", delivery.MessageId,
		"correlationId", delivery.CorrelationId,
		"requeue", requeue,
		"error", err,
	)

	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		c.logger.Error("failed to nack message", "queue", queue, "error", nackErr)
	}
}
