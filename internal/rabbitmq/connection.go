package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fincore/creditcheck-go/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
}

// ConnectionManager owns the AMQP connection and re-dials it in the background
// after the broker closes it.
type ConnectionManager struct {
	url            string
	connectionName string
	heartbeat      time.Duration
	dialTimeout    time.Duration
	backoff        *reliability.ExponentialBackoff
	logger         *slog.Logger

	mu        sync.RWMutex
	conn      *amqp.Connection
	done      chan struct{}
	closeOnce sync.Once

	listenersMu sync.RWMutex
	listeners   []ConnectionStateListener
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithConnectionName sets the connection_name client property shown in the management UI
func WithConnectionName(name string) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.connectionName = name
	}
}

// WithHeartbeat sets the AMQP heartbeat interval
func WithHeartbeat(interval time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.heartbeat = interval
	}
}

// WithDialTimeout bounds a single dial attempt
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dialTimeout = timeout
	}
}

// WithReconnectBackoff sets the delay policy between reconnection attempts.
// MaxAttempts of zero or less means retry until Close.
func WithReconnectBackoff(backoff *reliability.ExponentialBackoff) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.backoff = backoff
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		connectionName: "creditcheck",
		heartbeat:      10 * time.Second,
		dialTimeout:    30 * time.Second,
		backoff:        reliability.NewExponentialBackoff(time.Second, time.Minute, 2.0, 0),
		logger:         slog.Default(),
		done:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect dials the broker once and starts the reconnect watcher
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.conn != nil && !cm.conn.IsClosed() {
		return nil
	}

	conn, err := cm.dial(ctx)
	if err != nil {
		return &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Err: err, Attempts: 1}
	}

	cm.attach(conn)
	cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
	return nil
}

// GetConnection returns the live connection
func (cm *ConnectionManager) GetConnection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return cm.conn, nil
}

// IsConnected reports whether a live connection is held
func (cm *ConnectionManager) IsConnected() bool {
	_, err := cm.GetConnection()
	return err == nil
}

// AddStateListener registers a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.listeners = append(cm.listeners, listener)
}

// Close stops reconnecting and closes the connection
func (cm *ConnectionManager) Close() error {
	cm.closeOnce.Do(func() { close(cm.done) })

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.conn == nil {
		return nil
	}
	err := cm.conn.Close()
	cm.conn = nil
	if err == amqp.ErrClosed {
		return nil
	}
	return err
}

func (cm *ConnectionManager) dial(ctx context.Context) (*amqp.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.dialTimeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	dialed := make(chan result, 1)

	go func() {
		props := amqp.NewConnectionProperties()
		props.SetClientConnectionName(cm.connectionName)

		conn, err := amqp.DialConfig(cm.url, amqp.Config{
			Heartbeat:  cm.heartbeat,
			Properties: props,
		})
		dialed <- result{conn, err}
	}()

	select {
	case r := <-dialed:
		return r.conn, r.err
	case <-dialCtx.Done():
		go func() {
			// close a connection that completes after we gave up
			if r := <-dialed; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ErrConnectionTimeout
	}
}

// attach must be called with mu held
func (cm *ConnectionManager) attach(conn *amqp.Connection) {
	cm.conn = conn
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go cm.watch(closed)
	cm.notify(func(l ConnectionStateListener) { l.OnConnected() })
}

func (cm *ConnectionManager) watch(closed <-chan *amqp.Error) {
	select {
	case <-cm.done:
		return
	case amqpErr, ok := <-closed:
		if !ok || amqpErr == nil {
			// graceful close initiated by us
			return
		}
		cm.logger.Error("connection closed by broker",
			"code", amqpErr.Code,
			"reason", amqpErr.Reason,
		)
		cm.notify(func(l ConnectionStateListener) { l.OnDisconnected(amqpErr) })
		cm.reconnect()
	}
}

func (cm *ConnectionManager) reconnect() {
	started := time.Now()

	for attempt := 0; ; attempt++ {
		if cm.backoff.MaxAttempts > 0 && attempt >= cm.backoff.MaxAttempts {
			err := &ConnectionError{Op: "reconnect", URL: SanitizeURL(cm.url), Err: ErrMaxRetriesExceeded, Attempts: attempt}
			cm.logger.Error("giving up reconnecting", "attempts", attempt, "duration", time.Since(started))
			cm.notify(func(l ConnectionStateListener) { l.OnDisconnected(err) })
			return
		}

		delay := cm.backoff.NextDelay(attempt)
		select {
		case <-time.After(delay):
		case <-cm.done:
			return
		}

		conn, err := cm.dial(context.Background())
		if err != nil {
			cm.logger.Warn("reconnect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		cm.mu.Lock()
		select {
		case <-cm.done:
			cm.mu.Unlock()
			conn.Close()
			return
		default:
		}
		cm.attach(conn)
		cm.mu.Unlock()

		cm.logger.Info("reconnected to RabbitMQ", "attempts", attempt+1, "duration", time.Since(started))
		return
	}
}

func (cm *ConnectionManager) notify(fn func(ConnectionStateListener)) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	for _, l := range cm.listeners {
		go fn(l)
	}
}
