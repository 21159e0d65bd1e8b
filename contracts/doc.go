// Package contracts defines the wire envelope shared by every transport.
//
// An Envelope carries an opaque JSON body together with the two fields the
// request/reply protocol needs:
//   - CorrelationID: links a reply to the request it answers
//   - ReplyTo: the queue on which the reply is expected
//
// Transports may mirror these fields into native message properties (AMQP
// correlation_id and reply_to) but the envelope stays authoritative.
package contracts
