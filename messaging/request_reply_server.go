package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fincore/creditcheck-go/contracts"
)

// RequestHandlerFunc computes the reply for one request
type RequestHandlerFunc[Req, Resp any] func(ctx context.Context, request Req) (Resp, error)

// Responder consumes requests from a queue, runs a handler and publishes the
// reply to the request's ReplyTo destination under the same correlation ID.
type Responder[Req, Resp any] struct {
	subscriber TransportSubscriber
	publisher  TransportPublisher
	handler    RequestHandlerFunc[Req, Resp]
	queue      string
	replyType  string
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
}

// ResponderOption configures a Responder
type ResponderOption func(*ResponderConfig)

// ResponderConfig holds responder configuration
type ResponderConfig struct {
	Logger    *slog.Logger
	ReplyType string
}

// WithResponderLogger sets the logger
func WithResponderLogger(logger *slog.Logger) ResponderOption {
	return func(c *ResponderConfig) {
		c.Logger = logger
	}
}

// WithReplyType sets the Type stamped on reply envelopes
func WithReplyType(messageType string) ResponderOption {
	return func(c *ResponderConfig) {
		c.ReplyType = messageType
	}
}

// NewResponder creates a responder serving requests arriving on queue
func NewResponder[Req, Resp any](subscriber TransportSubscriber, publisher TransportPublisher, queue string, handler RequestHandlerFunc[Req, Resp], opts ...ResponderOption) (*Responder[Req, Resp], error) {
	if subscriber == nil {
		return nil, fmt.Errorf("subscriber cannot be nil")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if queue == "" {
		return nil, fmt.Errorf("request queue is required")
	}

	config := &ResponderConfig{
		Logger:    slog.Default(),
		ReplyType: "Reply",
	}

	for _, opt := range opts {
		opt(config)
	}

	return &Responder[Req, Resp]{
		subscriber: subscriber,
		publisher:  publisher,
		handler:    handler,
		queue:      queue,
		replyType:  config.ReplyType,
		logger:     config.Logger,
	}, nil
}

// Start subscribes to the request queue
func (r *Responder[Req, Resp]) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("responder already running")
	}

	if err := r.subscriber.Subscribe(ctx, r.queue, r.handle); err != nil {
		return fmt.Errorf("failed to subscribe to queue %s: %w", r.queue, err)
	}

	r.running = true
	r.logger.Info("responder started", "queue", r.queue)
	return nil
}

// Stop unsubscribes from the request queue
func (r *Responder[Req, Resp]) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return fmt.Errorf("responder not running")
	}

	r.running = false
	if err := r.subscriber.Unsubscribe(r.queue); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", r.queue, err)
	}

	r.logger.Info("responder stopped", "queue", r.queue)
	return nil
}

func (r *Responder[Req, Resp]) handle(ctx context.Context, envelope *contracts.Envelope) error {
	started := time.Now()

	if err := envelope.Validate(); err != nil {
		return err
	}
	if envelope.ReplyTo == "" {
		return fmt.Errorf("%w: %w", contracts.ErrInvalidEnvelope, ErrNoReplyDestination)
	}

	request, err := contracts.DecodeBody[Req](envelope)
	if err != nil {
		return err
	}

	reply, err := r.handler(ctx, request)
	if err != nil {
		r.logger.Error("request handler failed",
			"correlationId", envelope.CorrelationID,
			"error", err,
		)
		return err
	}

	replyEnvelope, err := contracts.NewEnvelope(r.replyType, envelope.CorrelationID, "", reply)
	if err != nil {
		return err
	}

	if err := r.publisher.Publish(ctx, envelope.ReplyTo, replyEnvelope); err != nil {
		r.logger.Error("failed to send reply",
			"correlationId", envelope.CorrelationID,
			"replyTo", envelope.ReplyTo,
			"error", err,
		)
		return err
	}

	r.logger.Debug("request processed",
		"correlationId", envelope.CorrelationID,
		"replyTo", envelope.ReplyTo,
		"duration", time.Since(started),
	)
	return nil
}
