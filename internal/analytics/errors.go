package analytics

import "errors"

var (
	ErrNilMessage          = errors.New("nil cloud message")
	ErrEmptyRegistrationID = errors.New("empty push registration id")
)
