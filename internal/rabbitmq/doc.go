// Package rabbitmq wraps amqp091-go for the limit-check queues.
//
// ConnectionManager keeps one connection alive and re-dials it with
// exponential backoff when the broker drops it. ChannelPool hands out
// confirm-mode channels. Publisher sends mandatory messages to the default
// exchange and waits for the confirm. Consumer runs one goroutine per queue
// and acks or nacks each delivery from the handler result.
package rabbitmq
