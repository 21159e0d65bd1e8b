package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// TopologyManager declares the queues the request/reply flow routes to.
// Everything goes through the default exchange, so no exchanges or bindings
// are needed.
type TopologyManager struct {
	pool *ChannelPool
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{pool: pool}
}

// RequestQueue returns a durable declaration for a queue shared by every
// requester and every evaluator. Messages expire after ttlMillis when it is
// positive.
func RequestQueue(name string, ttlMillis int64) QueueDeclaration {
	return QueueDeclaration{Name: name, Durable: true, Arguments: ttlArguments(ttlMillis)}
}

// ReplyQueue returns a declaration for one process's private reply queue.
// It is exclusive to the declaring connection and is deleted with it, so
// another process can never consume its replies.
func ReplyQueue(name string, ttlMillis int64) QueueDeclaration {
	return QueueDeclaration{Name: name, AutoDelete: true, Exclusive: true, Arguments: ttlArguments(ttlMillis)}
}

// RequestReplyQueues returns the declarations a requester needs: the shared
// request queue and its own reply queue
func RequestReplyQueues(requestQueue, replyQueue string, ttlMillis int64) []QueueDeclaration {
	return []QueueDeclaration{
		RequestQueue(requestQueue, ttlMillis),
		ReplyQueue(replyQueue, ttlMillis),
	}
}

func ttlArguments(ttlMillis int64) amqp.Table {
	if ttlMillis <= 0 {
		return nil
	}
	return amqp.Table{"x-message-ttl": ttlMillis}
}

// DeclareQueues declares every queue on one channel
func (tm *TopologyManager) DeclareQueues(ctx context.Context, queues ...QueueDeclaration) error {
	return tm.pool.Execute(ctx, func(ch *PooledChannel) error {
		for _, q := range queues {
			if q.Name == "" {
				return &TopologyError{Component: "queue", Err: ErrInvalidTopology}
			}
			if _, err := ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, q.Arguments); err != nil {
				return &TopologyError{Component: "queue", Name: q.Name, Err: err}
			}
		}
		return nil
	})
}

// QueueDepth returns the number of ready messages in queue
func (tm *TopologyManager) QueueDepth(ctx context.Context, queue string) (int, error) {
	var depth int
	err := tm.pool.Execute(ctx, func(ch *PooledChannel) error {
		q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to inspect queue %s: %w", queue, err)
		}
		depth = q.Messages
		return nil
	})
	return depth, err
}
