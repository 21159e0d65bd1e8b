// Package messaging implements correlated request/reply over asynchronous
// queues.
//
// A RequestReplyBroker owns a CorrelationRegistry of pending calls. Call
// registers a fresh correlation ID, publishes the request and blocks until
// the reply listener completes the slot, the timeout elapses or the context
// ends. Exactly one of Complete (the listener) and Remove (the caller giving
// up) succeeds for a given ID, so a reply racing a timeout is either
// delivered to the caller or dropped, never both.
//
//	publisher := messaging.NewEnvelopePublisher[CheckRequest](transport, "limit.check.request", "CreditLimitCheckRequest")
//	broker, err := messaging.NewRequestReplyBroker[CheckRequest, CheckResponse](publisher, "limit.check.response")
//	if err != nil {
//		return err
//	}
//	if err := messaging.ListenForReplies(ctx, transport, broker); err != nil {
//		return err
//	}
//	resp, err := broker.Call(ctx, req, 5*time.Second)
//
// The serving side uses a Responder, which replies to the ReplyTo
// destination of each request under the request's correlation ID.
package messaging
