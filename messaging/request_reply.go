package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Call outcomes reported to the MetricsCollector
const (
	OutcomeCompleted     = "completed"
	OutcomeTimeout       = "timeout"
	OutcomeCancelled     = "cancelled"
	OutcomePublishFailed = "publish_failed"
	OutcomeDuplicateID   = "duplicate_id"
)

// OutboundMessage is a request on its way to the request channel
type OutboundMessage[T any] struct {
	CorrelationID string
	ReplyTo       string
	Payload       T
}

// InboundMessage is a reply arriving on the reply channel
type InboundMessage[T any] struct {
	CorrelationID string
	Payload       T
}

// RequestPublisher sends an outbound request. It must not block waiting for the reply.
type RequestPublisher[T any] interface {
	PublishRequest(ctx context.Context, msg OutboundMessage[T]) error
}

// RequestPublisherFunc adapts a function to RequestPublisher
type RequestPublisherFunc[T any] func(ctx context.Context, msg OutboundMessage[T]) error

// PublishRequest implements RequestPublisher
func (f RequestPublisherFunc[T]) PublishRequest(ctx context.Context, msg OutboundMessage[T]) error {
	return f(ctx, msg)
}

// RequestReplyBroker turns a publish on the request channel plus a reply on the
// reply channel into a blocking call with a deadline.
//
// Each broker owns its CorrelationRegistry. OnResponse must be fed by exactly
// one long-running listener on the reply channel (see ListenForReplies).
type RequestReplyBroker[Req, Resp any] struct {
	publisher RequestPublisher[Req]
	registry  *CorrelationRegistry[Resp]
	replyTo   string
	newID     func() string
	logger    *slog.Logger
	metrics   MetricsCollector
}

// BrokerOption configures a RequestReplyBroker
type BrokerOption func(*BrokerConfig)

// BrokerConfig holds broker configuration
type BrokerConfig struct {
	Logger      *slog.Logger
	Metrics     MetricsCollector
	IDGenerator func() string
}

// WithBrokerLogger sets the logger
func WithBrokerLogger(logger *slog.Logger) BrokerOption {
	return func(c *BrokerConfig) {
		c.Logger = logger
	}
}

// WithBrokerMetrics sets the metrics collector
func WithBrokerMetrics(metrics MetricsCollector) BrokerOption {
	return func(c *BrokerConfig) {
		c.Metrics = metrics
	}
}

// WithIDGenerator replaces the correlation ID generator
func WithIDGenerator(generate func() string) BrokerOption {
	return func(c *BrokerConfig) {
		c.IDGenerator = generate
	}
}

// NewRequestReplyBroker creates a broker publishing through publisher and
// expecting replies on replyTo
func NewRequestReplyBroker[Req, Resp any](publisher RequestPublisher[Req], replyTo string, opts ...BrokerOption) (*RequestReplyBroker[Req, Resp], error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	if replyTo == "" {
		return nil, fmt.Errorf("reply destination is required")
	}

	config := &BrokerConfig{
		Logger:      slog.Default(),
		Metrics:     &NoOpMetricsCollector{},
		IDGenerator: uuid.NewString,
	}

	for _, opt := range opts {
		opt(config)
	}

	return &RequestReplyBroker[Req, Resp]{
		publisher: publisher,
		registry:  NewCorrelationRegistry[Resp](),
		replyTo:   replyTo,
		newID:     config.IDGenerator,
		logger:    config.Logger,
		metrics:   config.Metrics,
	}, nil
}

// Call publishes payload and blocks until the matching reply arrives, timeout
// elapses, or ctx is done.
//
// The slot is registered before publishing so a reply dispatched before Publish
// returns still finds it. On every failure path the slot is removed again.
func (b *RequestReplyBroker[Req, Resp]) Call(ctx context.Context, payload Req, timeout time.Duration) (Resp, error) {
	var zero Resp

	if timeout <= 0 {
		return zero, &RequestError{Op: "call", Timeout: timeout, Err: ErrInvalidTimeout}
	}

	started := time.Now()
	correlationID := b.newID()

	pending, err := b.registry.Register(correlationID)
	if err != nil {
		b.metrics.RecordRequest(OutcomeDuplicateID, time.Since(started))
		b.logger.Error("correlation ID collision",
			"correlationId", correlationID,
			"error", err,
		)
		return zero, &RequestError{Op: "register", CorrelationID: correlationID, Timeout: timeout, Err: err}
	}

	err = b.publisher.PublishRequest(ctx, OutboundMessage[Req]{
		CorrelationID: correlationID,
		ReplyTo:       b.replyTo,
		Payload:       payload,
	})
	if err != nil {
		b.registry.Remove(correlationID)
		b.metrics.RecordRequest(OutcomePublishFailed, time.Since(started))
		b.logger.Warn("failed to publish request",
			"correlationId", correlationID,
			"error", err,
		)
		return zero, &RequestError{
			Op:            "publish",
			CorrelationID: correlationID,
			Timeout:       timeout,
			Err:           fmt.Errorf("%w: %w", ErrPublishFailed, err),
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cause error
	outcome := OutcomeTimeout

	select {
	case <-pending.Done():
		return b.completed(pending, started)

	case <-timer.C:
		cause = ErrTimeout

	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cause = fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		} else {
			cause = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			outcome = OutcomeCancelled
		}
	}

	if !b.registry.Remove(correlationID) {
		// The listener claimed the slot first; its result is being delivered.
		<-pending.Done()
		return b.completed(pending, started)
	}

	b.metrics.RecordRequest(outcome, time.Since(started))
	b.logger.Warn("request abandoned without reply",
		"correlationId", correlationID,
		"outcome", outcome,
		"age", time.Since(pending.CreatedAt),
		"timeout", timeout,
	)

	return zero, &RequestError{Op: "await", CorrelationID: correlationID, Timeout: timeout, Err: cause}
}

// OnResponse delivers a reply to its waiting caller. Replies for unknown or
// already resolved correlation IDs are dropped; that is the normal fate of a
// reply arriving after its caller timed out.
func (b *RequestReplyBroker[Req, Resp]) OnResponse(msg InboundMessage[Resp]) {
	if b.registry.Complete(msg.CorrelationID, msg.Payload) {
		return
	}

	b.metrics.RecordLateResponse()
	b.logger.Debug("discarding unmatched reply",
		"correlationId", msg.CorrelationID,
		"replyTo", b.replyTo,
	)
}

// ReplyTo returns the reply destination stamped on every request
func (b *RequestReplyBroker[Req, Resp]) ReplyTo() string {
	return b.replyTo
}

// Pending returns the number of calls currently waiting for a reply
func (b *RequestReplyBroker[Req, Resp]) Pending() int {
	return b.registry.Len()
}

func (b *RequestReplyBroker[Req, Resp]) completed(pending *PendingRequest[Resp], started time.Time) (Resp, error) {
	result, _ := pending.Result()
	b.metrics.RecordRequest(OutcomeCompleted, time.Since(started))
	return result, nil
}
