package transport

import "errors"

var (
	// ErrUploadRejected is returned for 4xx responses other than 429. The
	// envelope will not be accepted on retry.
	ErrUploadRejected  = errors.New("upload rejected")
	ErrRetriesExceeded = errors.New("upload retries exhausted")
	ErrNilEnvelope     = errors.New("nil envelope")
)
