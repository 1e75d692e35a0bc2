package notify

import "errors"

// Sentinel errors for the notify package.
var (
	ErrNotDisplayable = errors.New("message is not displayable")
	ErrNoText         = errors.New("message has no text to display")
)
