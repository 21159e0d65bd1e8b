package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// PooledChannel is a confirm-mode channel with its return notifications
type PooledChannel struct {
	*amqp.Channel
	id      string
	returns <-chan amqp.Return
}

// ID identifies the channel in logs and consumer tags
func (pc *PooledChannel) ID() string {
	return pc.id
}

// ChannelPool hands out confirm-mode channels on the managed connection.
// Channels that the broker closed are discarded on Put.
type ChannelPool struct {
	manager *ConnectionManager
	idle    chan *PooledChannel
	slots   chan struct{}

	mu     sync.Mutex
	closed bool
}

// ChannelPoolOption configures the channel pool
type ChannelPoolOption func(*channelPoolConfig)

type channelPoolConfig struct {
	maxSize int
}

// WithMaxSize caps the number of open channels
func WithMaxSize(size int) ChannelPoolOption {
	return func(c *channelPoolConfig) {
		c.maxSize = size
	}
}

// NewChannelPool creates an empty pool; channels are opened on demand
func NewChannelPool(manager *ConnectionManager, options ...ChannelPoolOption) (*ChannelPool, error) {
	if manager == nil {
		return nil, fmt.Errorf("%w: connection manager is required", ErrInvalidConfiguration)
	}

	config := &channelPoolConfig{maxSize: 8}
	for _, opt := range options {
		opt(config)
	}
	if config.maxSize < 1 {
		return nil, fmt.Errorf("%w: max size must be at least 1", ErrInvalidConfiguration)
	}

	return &ChannelPool{
		manager: manager,
		idle:    make(chan *PooledChannel, config.maxSize),
		slots:   make(chan struct{}, config.maxSize),
	}, nil
}

// Get returns an idle channel or opens a new one, waiting for a free slot
// when the pool is at capacity
func (cp *ChannelPool) Get(ctx context.Context) (*PooledChannel, error) {
	if cp.isClosed() {
		return nil, ErrChannelPoolClosed
	}

	for {
		select {
		case ch := <-cp.idle:
			if !ch.IsClosed() {
				return ch, nil
			}
			<-cp.slots
		default:
			select {
			case ch := <-cp.idle:
				if !ch.IsClosed() {
					return ch, nil
				}
				<-cp.slots
			case cp.slots <- struct{}{}:
				ch, err := cp.open()
				if err != nil {
					<-cp.slots
					return nil, err
				}
				return ch, nil
			case <-ctx.Done():
				return nil, &ChannelError{Op: "get", ChannelID: "pool", Err: ctx.Err()}
			}
		}
	}
}

// Put returns ch to the pool
func (cp *ChannelPool) Put(ch *PooledChannel) {
	if ch == nil {
		return
	}

	if cp.isClosed() || ch.IsClosed() {
		ch.Close()
		<-cp.slots
		return
	}

	cp.idle <- ch
}

// Execute runs fn on a pooled channel
func (cp *ChannelPool) Execute(ctx context.Context, fn func(*PooledChannel) error) error {
	ch, err := cp.Get(ctx)
	if err != nil {
		return err
	}
	defer cp.Put(ch)

	return fn(ch)
}

// Close closes every idle channel. Channels in use are closed when returned.
func (cp *ChannelPool) Close() error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil
	}
	cp.closed = true
	cp.mu.Unlock()

	for {
		select {
		case ch := <-cp.idle:
			ch.Close()
			<-cp.slots
		default:
			return nil
		}
	}
}

func (cp *ChannelPool) isClosed() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.closed
}

func (cp *ChannelPool) open() (*PooledChannel, error) {
	id := uuid.NewString()

	conn, err := cp.manager.GetConnection()
	if err != nil {
		return nil, &ChannelError{Op: "open", ChannelID: id, Err: err}
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{Op: "open", ChannelID: id, Err: fmt.Errorf("%w: %v", ErrChannelCreationFailed, err)}
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, &ChannelError{Op: "confirm", ChannelID: id, Err: err}
	}

	return &PooledChannel{
		Channel: ch,
		id:      id,
		returns: ch.NotifyReturn(make(chan amqp.Return, 1)),
	}, nil
}
