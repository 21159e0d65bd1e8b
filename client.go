// Copyright 2026 Creditcheck Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package creditcheck

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fincore/creditcheck-go/creditlimit"
	"github.com/fincore/creditcheck-go/health"
	"github.com/fincore/creditcheck-go/internal/rabbitmq"
	"github.com/fincore/creditcheck-go/internal/reliability"
	"github.com/fincore/creditcheck-go/messaging"
	"github.com/fincore/creditcheck-go/metrics"
	rabbitmqTransport "github.com/fincore/creditcheck-go/transports/rabbitmq"
)

// Default queue names. Every requester appends its own suffix to
// DefaultReplyQueue, see InstanceReplyQueue.
const (
	DefaultRequestQueue = "credit-card.limit.check.request"
	DefaultReplyQueue   = "credit-card.limit.check.response"
)

// InstanceReplyQueue returns a reply queue name private to one client,
// prefix followed by a short random suffix
func InstanceReplyQueue(prefix string) string {
	return prefix + "." + uuid.NewString()[:8]
}

// Transport is what the client needs from a message transport. Both
// transports/rabbitmq and transports/memory satisfy it.
type Transport interface {
	messaging.TransportPublisher
	messaging.TransportSubscriber
	IsConnected() bool
	Close() error
}

// Client provides the credit limit check over a transport. It owns the
// reply listener, which runs until Close.
type Client struct {
	transport    Transport
	broker       *creditlimit.Broker
	limits       *creditlimit.Client
	breaker      *reliability.CircuitBreaker
	metrics      *metrics.Collector
	requestQueue string
	replyQueue   string
	logger       *slog.Logger
	cancel       context.CancelFunc
}

// Dial connects to RabbitMQ at url, declares the shared request queue and
// this client's exclusive reply queue and returns a client on top of that
// connection
func Dial(ctx context.Context, url string, options ...ClientOption) (*Client, error) {
	cfg := newClientConfig(options)

	transport, err := rabbitmqTransport.NewTransport(ctx, url,
		rabbitmqTransport.WithLogger(cfg.logger),
		rabbitmqTransport.WithConnectionOptions(rabbitmq.WithConnectionName(cfg.connectionName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	queues := rabbitmq.RequestReplyQueues(cfg.requestQueue, cfg.replyQueue, cfg.replyTTL.Milliseconds())
	if err := transport.DeclareQueues(ctx, queues...); err != nil {
		transport.Close()
		return nil, fmt.Errorf("failed to declare limit check queues: %w", err)
	}

	resolved := append(options[:len(options):len(options)], WithQueues(cfg.requestQueue, cfg.replyQueue))
	client, err := New(ctx, transport, resolved...)
	if err != nil {
		transport.Close()
		return nil, err
	}
	return client, nil
}

// New creates a client on an existing transport. Close closes the transport.
func New(ctx context.Context, transport Transport, options ...ClientOption) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	cfg := newClientConfig(options)

	collector := cfg.metrics
	if collector == nil {
		collector = metrics.NewCollector("")
	}

	var publisherOpts []messaging.EnvelopePublisherOption
	var breaker *reliability.CircuitBreaker
	if cfg.breakerThreshold > 0 {
		breaker = reliability.NewCircuitBreaker(
			reliability.WithName("limit-check-publish"),
			reliability.WithFailureThreshold(cfg.breakerThreshold),
			reliability.WithTimeout(cfg.breakerTimeout),
			reliability.WithStateChangeListener(collector),
		)
		publisherOpts = append(publisherOpts, messaging.WithPublishCircuitBreaker(breaker))
	}

	publisher := messaging.NewEnvelopePublisher[creditlimit.CheckRequest](
		transport, cfg.requestQueue, creditlimit.RequestType, publisherOpts...)

	broker, err := messaging.NewRequestReplyBroker[creditlimit.CheckRequest, creditlimit.CheckResponse](
		publisher, cfg.replyQueue,
		messaging.WithBrokerLogger(cfg.logger),
		messaging.WithBrokerMetrics(collector),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broker: %w", err)
	}
	if cfg.metrics == nil || cfg.trackPending {
		collector.TrackPending(broker.Pending)
	}

	limits, err := creditlimit.NewClient(broker,
		creditlimit.WithTimeout(cfg.timeout),
		creditlimit.WithClientLogger(cfg.logger),
	)
	if err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(ctx)
	if err := messaging.ListenForReplies(listenCtx, transport, broker); err != nil {
		cancel()
		return nil, err
	}

	cfg.logger.Info("credit limit client ready",
		"requestQueue", cfg.requestQueue,
		"replyQueue", cfg.replyQueue,
		"timeout", cfg.timeout,
	)

	return &Client{
		transport:    transport,
		broker:       broker,
		limits:       limits,
		breaker:      breaker,
		metrics:      collector,
		requestQueue: cfg.requestQueue,
		replyQueue:   cfg.replyQueue,
		logger:       cfg.logger,
		cancel:       cancel,
	}, nil
}

// CheckLimit asks the evaluator whether proposedBalance is within userID's
// credit limit
func (c *Client) CheckLimit(ctx context.Context, userID, proposedBalance int64) (creditlimit.CheckResponse, error) {
	return c.limits.CheckLimit(ctx, userID, proposedBalance)
}

// LimitChecker returns the underlying limit check client
func (c *Client) LimitChecker() *creditlimit.Client {
	return c.limits
}

// Pending returns the number of checks waiting for a reply
func (c *Client) Pending() int {
	return c.broker.Pending()
}

// Metrics returns the client's collector
func (c *Client) Metrics() *metrics.Collector {
	return c.metrics
}

// Transport returns the underlying transport
func (c *Client) Transport() Transport {
	return c.transport
}

// RequestQueue returns the queue requests are published to
func (c *Client) RequestQueue() string {
	return c.requestQueue
}

// ReplyQueue returns the queue this client receives replies on
func (c *Client) ReplyQueue() string {
	return c.replyQueue
}

// RegisterHealthChecks adds the transport and pending-call checks to registry
func (c *Client) RegisterHealthChecks(registry *health.Registry, pendingWarning, pendingCritical int) {
	registry.Register(health.NewTransportChecker("transport", c.transport))
	registry.Register(health.NewPendingChecker(c.broker.Pending, pendingWarning, pendingCritical))
	if c.breaker != nil {
		registry.Register(health.NewCheckerFunc("publish_circuit", func(ctx context.Context) health.CheckResult {
			result := health.CheckResult{
				Name:      "publish_circuit",
				Status:    health.StatusHealthy,
				Message:   c.breaker.State().String(),
				Timestamp: time.Now(),
			}
			if c.breaker.State() != reliability.StateClosed {
				result.Status = health.StatusDegraded
			}
			return result
		}))
	}
}

// Close stops the reply listener and closes the transport
func (c *Client) Close() error {
	c.cancel()
	if err := c.transport.Unsubscribe(c.replyQueue); err != nil {
		c.logger.Debug("reply listener already stopped", "error", err)
	}
	return c.transport.Close()
}

type clientConfig struct {
	logger           *slog.Logger
	requestQueue     string
	replyQueue       string
	timeout          time.Duration
	replyTTL         time.Duration
	connectionName   string
	metrics          *metrics.Collector
	trackPending     bool
	breakerThreshold int
	breakerTimeout   time.Duration
}

func newClientConfig(options []ClientOption) *clientConfig {
	cfg := &clientConfig{
		logger:         slog.Default(),
		requestQueue:   DefaultRequestQueue,
		timeout:        creditlimit.DefaultTimeout,
		connectionName: "creditcheck",
		breakerTimeout: 30 * time.Second,
	}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.replyQueue == "" {
		cfg.replyQueue = InstanceReplyQueue(DefaultReplyQueue)
	}
	return cfg
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithQueues overrides the request and reply queue names. Dial declares
// replyQueue exclusive to its connection, so two clients must never share
// one; use InstanceReplyQueue to derive it. An empty replyQueue keeps the
// generated default.
func WithQueues(requestQueue, replyQueue string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.requestQueue = requestQueue
		cfg.replyQueue = replyQueue
	}
}

// WithTimeout sets how long each check waits for its reply
func WithTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.timeout = timeout
	}
}

// WithReplyTTL sets the message TTL Dial declares on both queues, so stale
// checks do not pile up while the evaluator is down
func WithReplyTTL(ttl time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.replyTTL = ttl
	}
}

// WithConnectionName sets the AMQP connection name shown by the broker
func WithConnectionName(name string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectionName = name
	}
}

// WithMetrics records into collector instead of a private one. The pending
// gauge is registered only when trackPending is set, since a collector
// accepts it once.
func WithMetrics(collector *metrics.Collector, trackPending bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = collector
		cfg.trackPending = trackPending
	}
}

// WithCircuitBreaker fails publication fast after threshold consecutive
// publish failures, for openTimeout
func WithCircuitBreaker(threshold int, openTimeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.breakerThreshold = threshold
		cfg.breakerTimeout = openTimeout
	}
}
