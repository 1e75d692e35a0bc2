package dispatch

import "errors"

// Sentinel errors for the dispatch package.
var (
	ErrUnknownAction         = errors.New("unknown action")
	ErrDispatcherStopped     = errors.New("dispatcher stopped")
	ErrAlreadyStarted        = errors.New("dispatcher already started")
	ErrMissingMessage        = errors.New("action requires a cloud message")
	ErrMissingPayload        = errors.New("action requires a push payload")
	ErrMissingRegistrationID = errors.New("registration payload has no registration id")
	ErrRegistrationFailed    = errors.New("push registration failed")
)
