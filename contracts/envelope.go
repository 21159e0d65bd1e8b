package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps a message body for transport. CorrelationID and ReplyTo are
// the only fields the request/reply layer depends on; Body is opaque.
type Envelope struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	Timestamp     string                 `json:"timestamp"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	ReplyTo       string                 `json:"replyTo,omitempty"`
	Headers       map[string]interface{} `json:"headers,omitempty"`
	Body          json.RawMessage        `json:"body"`
}

// NewEnvelope marshals body and wraps it with a fresh message ID
func NewEnvelope(messageType, correlationID, replyTo string, body interface{}) (*Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s body: %w", messageType, err)
	}

	return &Envelope{
		ID:            uuid.New().String(),
		Type:          messageType,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		CorrelationID: correlationID,
		ReplyTo:       replyTo,
		Body:          raw,
	}, nil
}

// Validate checks the fields required for correlated delivery
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrInvalidEnvelope)
	}
	if e.CorrelationID == "" {
		return fmt.Errorf("%w: missing correlation ID", ErrInvalidEnvelope)
	}
	if len(e.Body) == 0 {
		return fmt.Errorf("%w: empty body", ErrInvalidEnvelope)
	}
	return nil
}

// SetHeader sets a single header, allocating the map on first use
func (e *Envelope) SetHeader(key string, value interface{}) {
	if e.Headers == nil {
		e.Headers = make(map[string]interface{})
	}
	e.Headers[key] = value
}

// Marshal encodes the envelope for the wire
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes a wire payload into an envelope
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return &env, nil
}

// DecodeBody unmarshals the envelope body into T
func DecodeBody[T any](e *Envelope) (T, error) {
	var body T
	if e == nil {
		return body, fmt.Errorf("%w: nil envelope", ErrInvalidEnvelope)
	}
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return body, fmt.Errorf("%w: cannot decode %s body: %v", ErrInvalidEnvelope, e.Type, err)
	}
	return body, nil
}
