package model

import "errors"

var (
	// ErrAlreadyBundled is returned by a second Bundle call on one Model.
	ErrAlreadyBundled = errors.New("model: already bundled")

	// ErrClosed is returned by operations on a closed Model or Backend.
	ErrClosed = errors.New("model: closed")

	// ErrRevoked is returned by operations on a revoked lease.
	ErrRevoked = errors.New("model: handle revoked")

	// ErrInvalidPath is returned for paths that do not address a document.
	ErrInvalidPath = errors.New("model: invalid path")

	// ErrStoreFatal reports that the document store connection was destroyed.
	// A process receiving it should exit and let its supervisor restart it.
	ErrStoreFatal = errors.New("model: store connection destroyed")

	// ErrAccessDenied is the conventional error for access rules to return.
	ErrAccessDenied = errors.New("model: access denied")
)

// ValidationError reports a schema validator rejecting a document.
type ValidationError struct {
	Collection string
	ID         string
	Err        error
}

func (e *ValidationError) Error() string {
	return "model: " + e.Collection + "." + e.ID + " failed validation: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
