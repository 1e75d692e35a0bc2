package alarm

import "errors"

// Sentinel errors for the alarm package.
var (
	ErrSchedulerStopped = errors.New("alarm scheduler stopped")
	ErrNotDelayed       = errors.New("message has no future delivery time")
)
