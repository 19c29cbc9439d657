package devproxy

import (
	"fmt"
	"net/http"
)

// HTTPError is an error that wraps the HTTP status the client should receive.
type HTTPError struct {
	status  int
	message string
}

// NewHTTPError creates a new HTTPError.
func NewHTTPError(status int, message string) error {
	return &HTTPError{status, message}
}

// Status returns the HTTP status code.
func (h *HTTPError) Status() int {
	if h.status == 0 {
		return http.StatusInternalServerError
	}

	return h.status
}

// Error returns the error message.
func (h *HTTPError) Error() string {
	return h.message
}

// ConfigurationError reports an invalid proxy rule. It is returned while a
// RuleSet is being built, so a bad configuration fails at startup instead of
// at request time.
type ConfigurationError struct {
	Prefix string
	Reason string
}

// Error returns the error message.
func (e *ConfigurationError) Error() string {
	if e.Prefix == "" {
		return fmt.Sprintf("invalid proxy configuration: %s", e.Reason)
	}

	return fmt.Sprintf("invalid proxy rule %q: %s", e.Prefix, e.Reason)
}
