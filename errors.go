package syncpage

import (
	"errors"
	"net/http"
)

var (
	// ErrNoStore is returned by New when Config.Store is nil.
	ErrNoStore = errors.New("syncpage: no document store configured")

	// ErrNoSessionSecret is returned by New when Config.SessionSecret is empty.
	ErrNoSessionSecret = errors.New("syncpage: session secret is required")
)

// HTTPError is an error with an HTTP status. Filters and server routes may
// return it to control the response status.
type HTTPError struct {
	Code    int    // HTTP status code (e.g., 400, 403, 404)
	Message string // Message returned to the client
	Err     error  // Optional underlying error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code for this error.
func (e *HTTPError) StatusCode() int {
	return e.Code
}

// NotFound returns a 404 HTTPError.
func NotFound(message string) *HTTPError {
	return &HTTPError{Code: http.StatusNotFound, Message: message}
}

// Forbidden returns a 403 HTTPError.
func Forbidden(message string) *HTTPError {
	return &HTTPError{Code: http.StatusForbidden, Message: message}
}

// BadRequest returns a 400 HTTPError wrapping err.
func BadRequest(err error) *HTTPError {
	return &HTTPError{Code: http.StatusBadRequest, Message: "bad request", Err: err}
}

// statusCoder is implemented by errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// statusOf returns the status carried by err, or 500.
func statusOf(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code >= 400 && code <= 599 {
			return code
		}
	}
	return http.StatusInternalServerError
}
