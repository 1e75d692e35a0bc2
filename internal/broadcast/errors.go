package broadcast

import "errors"

// Sentinel errors for the broadcast package.
var (
	ErrNoFallback = errors.New("no listeners and no fallback handler")
	ErrBusClosed  = errors.New("broadcast bus closed")
)
