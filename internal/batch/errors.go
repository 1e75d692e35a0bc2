package batch

import (
	"errors"
	"fmt"
)

// Sentinel errors for the batch package.
var (
	ErrInvalidPrefs     = errors.New("invalid stored preference")
	ErrInvalidFirstSeen = errors.New("identity first-seen flag is not a boolean")
	ErrInvalidMessage   = errors.New("queued message is not valid JSON")
)

// FieldError reports which envelope field could not be built.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("envelope field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
