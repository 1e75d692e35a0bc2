package identity

import "errors"

// Sentinel errors for the identity package.
var (
	ErrEmptyAttributeKey = errors.New("attribute key must not be empty")
	ErrInvalidStoredData = errors.New("invalid stored user data")
)
