// Package compliance normalizes requests and origin responses to protocol
// compliant form before and after the caching engine handles them.
package compliance

import (
	"errors"
	"fmt"
	"net/http"
)

// RequestError is a fatal protocol violation in a client request. Each one
// maps to a synthesized error response.
type RequestError struct {
	StatusCode int
	Reason     string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("non-compliant request (status %d): %s", e.StatusCode, e.Reason)
}

// Fatal request errors.
var (
	ErrWeakETagAndRange = &RequestError{
		StatusCode: http.StatusBadRequest,
		Reason:     "Weak eTag not compatible with byte range",
	}

	ErrWeakETagOnPutOrDelete = &RequestError{
		StatusCode: http.StatusBadRequest,
		Reason:     "Weak eTag not compatible with PUT or DELETE requests",
	}

	ErrNoCacheWithFieldName = &RequestError{
		StatusCode: http.StatusBadRequest,
		Reason:     "No-Cache directive MUST NOT include a field name",
	}
)

// ErrUnrequestedPartialContent is returned for a 206 answering a request
// without Range.
var ErrUnrequestedPartialContent = errors.New("partial content was returned for a request that did not ask for it")
