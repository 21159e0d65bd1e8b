// Package creditlimit is the credit limit check carried over the
// request/reply broker.
//
// The card service side uses Client.CheckLimit to ask whether a proposed
// credit card balance is within policy. The evaluator side serves those
// requests with an Evaluator behind a messaging.Responder. Amounts are
// integer minor currency units.
package creditlimit
