package messaging

import "errors"

// Sentinel errors for the messaging package.
var (
	ErrEmptyPayload     = errors.New("push payload is empty")
	ErrMalformedPayload = errors.New("malformed push payload")
	ErrExpired          = errors.New("push message expired")
	ErrUnknownKind      = errors.New("unknown cloud message kind")
)
