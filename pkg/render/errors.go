package render

import (
	"errors"
	"fmt"
)

// ErrBundleTimeout is returned when bundling does not finish within the
// renderer's bundle timeout.
var ErrBundleTimeout = errors.New("render: bundle timed out")

// BundleError reports that the model could not be serialized for a request.
// It is surfaced as a 500 and never retried.
type BundleError struct {
	Path string
	Err  error
}

func (e *BundleError) Error() string {
	return fmt.Sprintf("500: %s. Error: %v", e.Path, e.Err)
}

func (e *BundleError) Unwrap() error {
	return e.Err
}

// StatusCode implements the status interface the error handler looks for.
func (e *BundleError) StatusCode() int {
	return 500
}
