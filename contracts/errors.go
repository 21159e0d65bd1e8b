package contracts

import "errors"

// ErrInvalidEnvelope marks payloads that can never be processed and must not be redelivered
var ErrInvalidEnvelope = errors.New("contracts: invalid envelope")
