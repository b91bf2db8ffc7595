package gemini

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCredentialRequired is returned when the key tier is requested without an API key.
	// No request is sent.
	ErrCredentialRequired = errors.New("gemini: api key required for this request")

	// ErrEmptyResponse means a 2xx response carried no text and no block reason.
	ErrEmptyResponse = errors.New("gemini: response contained no text")

	// ErrNoImage means a 2xx image response carried no inline image data.
	ErrNoImage = errors.New("gemini: response contained no image")
)

// APIError is a failure reported by the service: a non-2xx status, or a 2xx response whose
// content was blocked. Status is 0 for blocked content.
type APIError struct {
	Status int
	Model  string
	Reason string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("gemini: %s (model %s)", e.Reason, e.Model)
	}
	if e.Reason == "" {
		return fmt.Sprintf("gemini: status %d from %s", e.Status, e.Model)
	}
	return fmt.Sprintf("gemini: status %d from %s: %s", e.Status, e.Model, e.Reason)
}

// Quota reports whether the service rejected the call for rate or quota limits.
func (e *APIError) Quota() bool {
	return e.Status == http.StatusTooManyRequests
}

// Blocked reports whether the content was refused by the safety policy.
func (e *APIError) Blocked() bool {
	return e.Status == 0
}

// IsQuota reports whether err carries a quota APIError.
func IsQuota(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Quota()
}

// TransportError wraps network, encoding and decoding failures with the operation and model.
type TransportError struct {
	Op    string
	Model string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gemini: %s %s: %v", e.Op, e.Model, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
