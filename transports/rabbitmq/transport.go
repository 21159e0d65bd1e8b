package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/fincore/creditcheck-go/contracts"
	"github.com/fincore/creditcheck-go/internal/rabbitmq"
	"github.com/fincore/creditcheck-go/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// recoveryTimeout bounds redeclaring queues after a reconnect
const recoveryTimeout = 30 * time.Second

// Transport carries envelopes over RabbitMQ queues. It implements both
// messaging.TransportPublisher and messaging.TransportSubscriber.
//
// The transport remembers the queues it declared and the sources it
// consumes. After the connection manager reconnects, it declares the queues
// again and restarts every consumer the broken connection took down.
type Transport struct {
	manager   *rabbitmq.ConnectionManager
	pool      *rabbitmq.ChannelPool
	publisher *rabbitmq.Publisher
	consumer  deliveryConsumer
	topology  queueTopology
	logger    *slog.Logger

	mu            sync.Mutex
	declared      []rabbitmq.QueueDeclaration
	subscriptions map[string]subscription

	recoverMu sync.Mutex
}

type subscription struct {
	ctx     context.Context
	handler rabbitmq.DeliveryHandler
}

type deliveryConsumer interface {
	Subscribe(ctx context.Context, queue string, handler rabbitmq.DeliveryHandler) error
	Unsubscribe(queue string) error
	UnsubscribeAll()
}

type queueTopology interface {
	DeclareQueues(ctx context.Context, queues ...rabbitmq.QueueDeclaration) error
	QueueDepth(ctx context.Context, queue string) (int, error)
}

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	ConnectionOptions []rabbitmq.ConnectionOption
	PoolOptions       []rabbitmq.ChannelPoolOption
	PublisherOptions  []rabbitmq.PublisherOption
	ConsumerOptions   []rabbitmq.ConsumerOption
	Logger            *slog.Logger
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithPoolOptions sets channel pool options
func WithPoolOptions(opts ...rabbitmq.ChannelPoolOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PoolOptions = append(cfg.PoolOptions, opts...)
	}
}

// WithPublisherOptions sets publisher options
func WithPublisherOptions(opts ...rabbitmq.PublisherOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, opts...)
	}
}

// WithConsumerOptions sets consumer options
func WithConsumerOptions(opts ...rabbitmq.ConsumerOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConsumerOptions = append(cfg.ConsumerOptions, opts...)
	}
}

// WithLogger sets the logger used by the transport and its consumer
func WithLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Logger = logger
	}
}

// NewTransport connects to the broker at url
func NewTransport(ctx context.Context, url string, options ...TransportOption) (*Transport, error) {
	cfg := &TransportConfig{Logger: slog.Default()}
	for _, opt := range options {
		opt(cfg)
	}

	connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(cfg.Logger)}, cfg.ConnectionOptions...)
	manager := rabbitmq.NewConnectionManager(url, connOpts...)
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	pool, err := rabbitmq.NewChannelPool(manager, cfg.PoolOptions...)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to create channel pool: %w", err)
	}

	consumerOpts := append([]rabbitmq.ConsumerOption{
		rabbitmq.WithConsumerLogger(cfg.Logger),
		rabbitmq.WithRequeuePolicy(Requeue),
	}, cfg.ConsumerOptions...)

	t := &Transport{
		manager:       manager,
		pool:          pool,
		publisher:     rabbitmq.NewPublisher(pool, cfg.PublisherOptions...),
		consumer:      rabbitmq.NewConsumer(pool, consumerOpts...),
		topology:      rabbitmq.NewTopologyManager(pool),
		logger:        cfg.Logger,
		subscriptions: make(map[string]subscription),
	}
	manager.AddStateListener(t)
	return t, nil
}

// DeclareQueues declares the given queues. They are declared again after
// every reconnect.
func (t *Transport) DeclareQueues(ctx context.Context, queues ...rabbitmq.QueueDeclaration) error {
	if err := t.topology.DeclareQueues(ctx, queues...); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, q := range queues {
		i := slices.IndexFunc(t.declared, func(d rabbitmq.QueueDeclaration) bool { return d.Name == q.Name })
		if i >= 0 {
			t.declared[i] = q
			continue
		}
		t.declared = append(t.declared, q)
	}
	return nil
}

// QueueDepth returns the number of ready messages in queue
func (t *Transport) QueueDepth(ctx context.Context, queue string) (int, error) {
	return t.topology.QueueDepth(ctx, queue)
}

// Publish implements messaging.TransportPublisher
func (t *Transport) Publish(ctx context.Context, destination string, envelope *contracts.Envelope) error {
	msg, err := ToPublishing(envelope)
	if err != nil {
		return err
	}
	return t.publisher.Publish(ctx, destination, msg)
}

// Subscribe implements messaging.TransportSubscriber. The consumer is
// restarted after a reconnect until ctx ends or Unsubscribe is called.
func (t *Transport) Subscribe(ctx context.Context, source string, handler messaging.EnvelopeHandler) error {
	deliver := func(ctx context.Context, delivery amqp.Delivery) error {
		envelope, err := FromDelivery(delivery)
		if err != nil {
			return err
		}
		return handler(ctx, envelope)
	}

	if err := t.consumer.Subscribe(ctx, source, deliver); err != nil {
		return err
	}

	t.mu.Lock()
	t.subscriptions[source] = subscription{ctx: ctx, handler: deliver}
	t.mu.Unlock()
	return nil
}

// Unsubscribe implements messaging.TransportSubscriber
func (t *Transport) Unsubscribe(source string) error {
	t.mu.Lock()
	delete(t.subscriptions, source)
	t.mu.Unlock()

	return t.consumer.Unsubscribe(source)
}

// OnConnected implements rabbitmq.ConnectionStateListener. It declares the
// remembered queues on the new connection and restarts every consumer.
func (t *Transport) OnConnected() {
	t.recoverMu.Lock()
	defer t.recoverMu.Unlock()

	t.mu.Lock()
	declared := slices.Clone(t.declared)
	sources := slices.Sorted(maps.Keys(t.subscriptions))
	t.mu.Unlock()

	if len(declared) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), recoveryTimeout)
		err := t.topology.DeclareQueues(ctx, declared...)
		cancel()
		if err != nil {
			t.logger.Error("failed to redeclare queues after reconnect", "error", err)
			return
		}
	}

	for _, source := range sources {
		t.resubscribe(source)
	}
}

// OnDisconnected implements rabbitmq.ConnectionStateListener
func (t *Transport) OnDisconnected(err error) {
	t.mu.Lock()
	consumers := len(t.subscriptions)
	t.mu.Unlock()

	t.logger.Warn("transport disconnected", "consumers", consumers, "error", err)
}

func (t *Transport) resubscribe(source string) {
	t.mu.Lock()
	sub, ok := t.subscriptions[source]
	if ok && sub.ctx.Err() != nil {
		delete(t.subscriptions, source)
		ok = false
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	// the old consumer may still be finishing its last delivery
	_ = t.consumer.Unsubscribe(source)

	if err := t.consumer.Subscribe(sub.ctx, source, sub.handler); err != nil {
		t.logger.Error("failed to resubscribe after reconnect", "queue", source, "error", err)
		return
	}
	t.logger.Info("resubscribed after reconnect", "queue", source)
}

// IsConnected returns connection status
func (t *Transport) IsConnected() bool {
	return t.manager.IsConnected()
}

// Close stops all consumers and closes the connection
func (t *Transport) Close() error {
	t.consumer.UnsubscribeAll()
	t.pool.Close()
	return t.manager.Close()
}

// ToPublishing encodes an envelope as a persistent JSON message. The
// correlation ID, reply-to and message ID are mirrored into the AMQP
// properties so non-Go peers can correlate without parsing the body.
func ToPublishing(envelope *contracts.Envelope) (amqp.Publishing, error) {
	body, err := envelope.Marshal()
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     envelope.ID,
		Type:          envelope.Type,
		CorrelationId: envelope.CorrelationID,
		ReplyTo:       envelope.ReplyTo,
		Body:          body,
	}

	if len(envelope.Headers) > 0 {
		msg.Headers = make(amqp.Table, len(envelope.Headers))
		for k, v := range envelope.Headers {
			msg.Headers[k] = v
		}
	}

	return msg, nil
}

// FromDelivery decodes a delivery body into an envelope. Correlation fields
// missing from the body are taken from the AMQP properties.
func FromDelivery(delivery amqp.Delivery) (*contracts.Envelope, error) {
	envelope, err := contracts.UnmarshalEnvelope(delivery.Body)
	if err != nil {
		return nil, err
	}

	if envelope.ID == "" {
		envelope.ID = delivery.MessageId
	}
	if envelope.Type == "" {
		envelope.Type = delivery.Type
	}
	if envelope.CorrelationID == "" {
		envelope.CorrelationID = delivery.CorrelationId
	}
	if envelope.ReplyTo == "" {
		envelope.ReplyTo = delivery.ReplyTo
	}

	return envelope, nil
}

// Requeue reports whether a failed delivery is worth another attempt.
// Malformed envelopes never are.
func Requeue(err error) bool {
	return !errors.Is(err, contracts.ErrInvalidEnvelope)
}

var (
	_ messaging.TransportPublisher     = (*Transport)(nil)
	_ messaging.TransportSubscriber    = (*Transport)(nil)
	_ rabbitmq.ConnectionStateListener = (*Transport)(nil)
	_ deliveryConsumer                 = (*rabbitmq.Consumer)(nil)
	_ queueTopology                    = (*rabbitmq.TopologyManager)(nil)
)
