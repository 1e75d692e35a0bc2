package config

import "errors"

// Sentinel errors for the config package.
var (
	ErrInvalidJSON   = errors.New("invalid config JSON")
	ErrInvalidConfig = errors.New("config validation failed")
)
